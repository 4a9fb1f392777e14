// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package columnaudit validates writes against column definitions and
// records the columns they touch.
package columnaudit

import (
	"context"
	"regexp"
	"sync"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/columnmanager/repository"
	"storj.io/columnmanager/storage"
)

var mon = monkit.Package()

var (
	// Error is the default error class for column auditing.
	Error = errs.Class("columnaudit")

	// ErrColumnDefinitionNotFound is returned when a column of an enforced family has no definition.
	ErrColumnDefinitionNotFound = errs.Class("column definition not found")
	// ErrValueTooLong is returned when a value exceeds the defined column length.
	ErrValueTooLong = errs.Class("column value too long")
	// ErrValuePatternMismatch is returned when a value does not match the defined regex.
	ErrValuePatternMismatch = errs.Class("column value pattern mismatch")
)

// Auditor validates and records writes to tracked tables.
type Auditor struct {
	log  *zap.Logger
	repo *repository.Repository

	mu      sync.Mutex
	regexes map[string]*regexp.Regexp
}

// New returns an auditor which uses repo.
func New(log *zap.Logger, repo *repository.Repository) *Auditor {
	return &Auditor{
		log:     log,
		repo:    repo,
		regexes: map[string]*regexp.Regexp{},
	}
}

// Validate checks the mutations against the column definitions of every
// family with enforcement enabled. Deletes are not checked.
func (auditor *Auditor) Validate(ctx context.Context, table storage.TableName, mutations ...storage.Mutation) (err error) {
	defer mon.Task()(&ctx)(&err)
	if !auditor.repo.IsIncludedTable(table) {
		return nil
	}

	definitions := map[string]map[string]repository.ColumnDefinition{}
	enforced := map[string]bool{}

	for _, mutation := range mutations {
		if mutation.IsDelete() {
			continue
		}
		for _, cell := range mutation.Puts {
			isEnforced, ok := enforced[cell.Family]
			if !ok {
				isEnforced, err = auditor.repo.ColumnDefinitionsEnforced(ctx, table, cell.Family)
				if err != nil {
					return Error.Wrap(err)
				}
				enforced[cell.Family] = isEnforced
			}
			if !isEnforced {
				continue
			}

			family, ok := definitions[cell.Family]
			if !ok {
				list, err := auditor.repo.GetColumnDefinitions(ctx, table, cell.Family)
				if err != nil {
					return Error.Wrap(err)
				}
				family = make(map[string]repository.ColumnDefinition, len(list))
				for _, def := range list {
					family[string(def.Qualifier)] = def
				}
				definitions[cell.Family] = family
			}

			if err := auditor.check(table, cell, family); err != nil {
				mon.Meter("enforcement_rejections").Mark(1)
				auditor.log.Debug("write rejected",
					zap.Stringer("table", table),
					zap.String("family", cell.Family),
					zap.ByteString("qualifier", cell.Qualifier),
					zap.Error(err))
				return err
			}
		}
	}
	return nil
}

func (auditor *Auditor) check(table storage.TableName, cell storage.Cell, definitions map[string]repository.ColumnDefinition) error {
	def, ok := definitions[string(cell.Qualifier)]
	if !ok {
		return ErrColumnDefinitionNotFound.New("%s:%s:%s", table, cell.Family, cell.Qualifier)
	}
	if def.ColumnLength > 0 && int64(len(cell.Value)) > def.ColumnLength {
		return ErrValueTooLong.New("%s:%s:%s: length %d exceeds %d",
			table, cell.Family, cell.Qualifier, len(cell.Value), def.ColumnLength)
	}
	if def.ColumnValidationRegex == "" {
		return nil
	}
	re, err := auditor.regex(def.ColumnValidationRegex)
	if err != nil {
		return Error.Wrap(err)
	}
	if !re.Match(cell.Value) {
		return ErrValuePatternMismatch.New("%s:%s:%s: value does not match %q",
			table, cell.Family, cell.Qualifier, def.ColumnValidationRegex)
	}
	return nil
}

// regex returns the compiled form of expr, compiling it only once.
func (auditor *Auditor) regex(expr string) (*regexp.Regexp, error) {
	auditor.mu.Lock()
	defer auditor.mu.Unlock()

	if re, ok := auditor.regexes[expr]; ok {
		return re, nil
	}
	re, err := repository.CompileValidationRegex(expr)
	if err != nil {
		return nil, err
	}
	auditor.regexes[expr] = re
	return re, nil
}

// Record records the columns written by the mutations in the catalog.
func (auditor *Auditor) Record(ctx context.Context, table storage.TableName, mutations ...storage.Mutation) (err error) {
	defer mon.Task()(&ctx)(&err)
	return Error.Wrap(auditor.repo.RecordColumns(ctx, table, mutations...))
}

// Write validates the mutations, records them and applies them to table.
// Nothing is written when validation fails.
func (auditor *Auditor) Write(ctx context.Context, table storage.Table, mutations ...storage.Mutation) (err error) {
	defer mon.Task()(&ctx)(&err)

	name := table.Name()
	if err := auditor.Validate(ctx, name, mutations...); err != nil {
		return err
	}
	if err := auditor.Record(ctx, name, mutations...); err != nil {
		return err
	}
	for _, mutation := range mutations {
		if _, err := table.Mutate(ctx, mutation); err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}
