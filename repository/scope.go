// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package repository

import (
	"strings"

	"go.uber.org/zap"

	"storj.io/columnmanager/storage"
)

// SystemNamespace is the namespace of the storage service itself.
const SystemNamespace = "hbase"

// wildcard marks an entry which covers a whole namespace.
const wildcard = "*"

// scope decides which namespaces and tables are tracked.
type scope struct {
	includedNamespaces       map[string]bool
	includedEntireNamespaces map[string]bool
	includedTables           map[storage.TableName]bool

	excludedEntireNamespaces map[string]bool
	excludedTables           map[storage.TableName]bool
}

func newScope(log *zap.Logger, included, excluded []string) (*scope, error) {
	s := &scope{}

	included, excluded = nonEmpty(included), nonEmpty(excluded)
	if len(included) > 0 && len(excluded) > 0 {
		log.Warn("both included and excluded tables are configured, excluded tables are ignored",
			zap.Strings("excluded", excluded))
		excluded = nil
	}

	if len(included) > 0 {
		s.includedNamespaces = map[string]bool{}
		s.includedEntireNamespaces = map[string]bool{}
		s.includedTables = map[storage.TableName]bool{}
		for _, entry := range included {
			name, entire, err := parseScopeEntry(entry)
			if err != nil {
				return nil, err
			}
			s.includedNamespaces[name.Namespace] = true
			if entire {
				s.includedEntireNamespaces[name.Namespace] = true
			} else {
				s.includedTables[name] = true
			}
		}
	}

	if len(excluded) > 0 {
		s.excludedEntireNamespaces = map[string]bool{}
		s.excludedTables = map[storage.TableName]bool{}
		for _, entry := range excluded {
			name, entire, err := parseScopeEntry(entry)
			if err != nil {
				return nil, err
			}
			if entire {
				s.excludedEntireNamespaces[name.Namespace] = true
			} else {
				s.excludedTables[name] = true
			}
		}
	}

	return s, nil
}

func nonEmpty(entries []string) []string {
	var result []string
	for _, entry := range entries {
		if entry = strings.TrimSpace(entry); entry != "" {
			result = append(result, entry)
		}
	}
	return result
}

// parseScopeEntry parses "ns:table", "table" or "ns:*".
func parseScopeEntry(entry string) (name storage.TableName, entire bool, err error) {
	if namespace, found := strings.CutSuffix(entry, ":"+wildcard); found {
		if err := storage.ValidateNamespaceName(namespace); err != nil {
			return storage.TableName{}, false, Error.Wrap(err)
		}
		return storage.TableName{Namespace: namespace}, true, nil
	}
	name, err = storage.ParseTableName(entry)
	if err != nil {
		return storage.TableName{}, false, Error.Wrap(err)
	}
	return name, false, nil
}

func (s *scope) namespace(namespace string) bool {
	if namespace == SystemNamespace || namespace == CatalogNamespace {
		return false
	}
	switch {
	case s.includedNamespaces != nil:
		return s.includedNamespaces[namespace]
	case s.excludedEntireNamespaces != nil:
		return !s.excludedEntireNamespaces[namespace]
	}
	return true
}

func (s *scope) table(name storage.TableName) bool {
	if !s.namespace(name.Namespace) {
		return false
	}
	switch {
	case s.includedTables != nil:
		return s.includedTables[name] || s.includedEntireNamespaces[name.Namespace]
	case s.excludedTables != nil:
		return !s.excludedTables[name] && !s.excludedEntireNamespaces[name.Namespace]
	}
	return true
}
