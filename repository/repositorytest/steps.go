// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package repositorytest

import (
	"context"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"

	"storj.io/common/testcontext"
	"storj.io/columnmanager/repository"
	"storj.io/columnmanager/repository/entitykey"
	"storj.io/columnmanager/storage"
)

func checkError(t require.TestingT, err error, errClass *errs.Class, errText string) {
	if errClass != nil {
		require.True(t, errClass.Has(err), "expected an error %v got %v", *errClass, err)
	}
	if errText != "" {
		require.ErrorContains(t, err, errText)
	}
	if errClass == nil && errText == "" {
		require.NoError(t, err)
	}
}

// CreateTable creates a table in the live schema, creating its namespace when
// needed, and records it in the catalog.
type CreateTable struct {
	Desc storage.TableDescriptor
}

// Check runs the test.
func (step CreateTable) Check(ctx *testcontext.Context, t testing.TB, env *Env) {
	namespace := step.Desc.Name.Namespace
	if _, err := env.Store.GetNamespace(ctx, namespace); storage.ErrNamespaceNotFound.Has(err) {
		require.NoError(t, env.Store.CreateNamespace(ctx, storage.NamespaceDescriptor{Name: namespace}))
	}
	require.NoError(t, env.Store.CreateTable(ctx, step.Desc))
	_, err := env.Repo.PutTable(ctx, step.Desc)
	require.NoError(t, err)
}

// Write records the columns of the mutations and applies them to the table.
type Write struct {
	Table     storage.TableName
	Mutations []storage.Mutation

	ErrClass *errs.Class
	ErrText  string
}

// Check runs the test.
func (step Write) Check(ctx *testcontext.Context, t testing.TB, env *Env) {
	err := env.Repo.RecordColumns(ctx, step.Table, step.Mutations...)
	checkError(t, err, step.ErrClass, step.ErrText)
	if err != nil {
		return
	}

	table, err := env.Store.OpenTable(ctx, step.Table)
	require.NoError(t, err)
	defer ctx.Check(table.Close)

	for _, mutation := range step.Mutations {
		_, err := table.Mutate(ctx, mutation)
		require.NoError(t, err)
	}
}

// Put returns a mutation writing a single value.
func Put(row, family, qualifier, value string) storage.Mutation {
	return *storage.NewMutation([]byte(row)).Put(family, []byte(qualifier), []byte(value))
}

// VerifyAuditors checks the active column auditors of a column family.
type VerifyAuditors struct {
	Table  storage.TableName
	Family string
	Result []repository.ColumnAuditor

	ErrClass *errs.Class
	ErrText  string
}

// Check runs the test.
func (step VerifyAuditors) Check(ctx *testcontext.Context, t testing.TB, env *Env) {
	auditors, err := env.Repo.GetColumnAuditors(ctx, step.Table, step.Family)
	checkError(t, err, step.ErrClass, step.ErrText)

	diff := cmp.Diff(step.Result, auditors, cmpopts.EquateEmpty())
	require.Zero(t, diff)
}

// VerifyDefinitions checks the active column definitions of a column family.
type VerifyDefinitions struct {
	Table  storage.TableName
	Family string
	Result []repository.ColumnDefinition

	ErrClass *errs.Class
	ErrText  string
}

// Check runs the test.
func (step VerifyDefinitions) Check(ctx *testcontext.Context, t testing.TB, env *Env) {
	definitions, err := env.Repo.GetColumnDefinitions(ctx, step.Table, step.Family)
	checkError(t, err, step.ErrClass, step.ErrText)

	diff := cmp.Diff(step.Result, definitions, cmpopts.EquateEmpty())
	require.Zero(t, diff)
}

// Entity is a condensed catalog entity used for comparisons.
type Entity struct {
	Type   entitykey.Type
	Name   string
	Active bool
}

// VerifyCatalog checks every catalog entity, including deleted ones.
type VerifyCatalog []Entity

// Check runs the test.
func (step VerifyCatalog) Check(ctx *testcontext.Context, t testing.TB, env *Env) {
	entities, err := env.Repo.TestingEntities(ctx)
	require.NoError(t, err)

	var state []Entity
	for _, entity := range entities {
		state = append(state, Entity{Type: entity.Type, Name: string(entity.Name), Active: entity.Active})
	}

	expected := append([]Entity{}, step...)
	sortEntities(expected)
	sortEntities(state)

	diff := cmp.Diff(expected, state, cmpopts.EquateEmpty())
	require.Zero(t, diff)
}

func sortEntities(entities []Entity) {
	sort.Slice(entities, func(i, k int) bool {
		if entities[i].Type != entities[k].Type {
			return entities[i].Type < entities[k].Type
		}
		if entities[i].Name != entities[k].Name {
			return entities[i].Name < entities[k].Name
		}
		return !entities[i].Active && entities[k].Active
	})
}

// CountVersions returns the number of retained versions of every catalog column.
func CountVersions(ctx *testcontext.Context, t testing.TB, env *Env) int {
	count := 0
	err := env.Repo.ScanCatalog(ctx, true, func(_ context.Context, key entitykey.Key, row storage.Row) error {
		count += len(row.Cells)
		return nil
	})
	require.NoError(t, err)
	return count
}
