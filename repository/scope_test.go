// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package repository

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"storj.io/columnmanager/storage"
)

func TestScope(t *testing.T) {
	name := func(s string) storage.TableName {
		parsed, err := storage.ParseTableName(s)
		require.NoError(t, err)
		return parsed
	}

	type check struct {
		table    string
		included bool
	}

	for _, tt := range []struct {
		desc       string
		included   []string
		excluded   []string
		namespaces map[string]bool
		tables     []check
	}{
		{
			desc:       "everything",
			namespaces: map[string]bool{"default": true, "ns1": true, SystemNamespace: false, CatalogNamespace: false},
			tables: []check{
				{"t1", true},
				{"ns1:t1", true},
				{"hbase:meta", false},
				{CatalogNamespace + ":" + CatalogQualifier, false},
			},
		},
		{
			desc:       "included tables",
			included:   []string{"ns1:t1", "t2", "ns2:*", " "},
			namespaces: map[string]bool{"default": true, "ns1": true, "ns2": true, "ns3": false},
			tables: []check{
				{"ns1:t1", true},
				{"ns1:t2", false},
				{"t2", true},
				{"t1", false},
				{"ns2:anything", true},
				{"ns3:t1", false},
			},
		},
		{
			desc:       "excluded tables",
			excluded:   []string{"ns2:t1", "ns3:*"},
			namespaces: map[string]bool{"default": true, "ns2": true, "ns3": false},
			tables: []check{
				{"ns2:t1", false},
				{"ns2:t2", true},
				{"ns3:t1", false},
				{"t1", true},
			},
		},
	} {
		t.Run(tt.desc, func(t *testing.T) {
			s, err := newScope(zaptest.NewLogger(t), tt.included, tt.excluded)
			require.NoError(t, err)

			for namespace, included := range tt.namespaces {
				require.Equal(t, included, s.namespace(namespace), namespace)
			}
			for _, check := range tt.tables {
				require.Equal(t, check.included, s.table(name(check.table)), check.table)
			}
		})
	}
}

func TestScopeExcludedIgnored(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)

	s, err := newScope(zap.New(core), []string{"ns1:t1"}, []string{"ns1:t1"})
	require.NoError(t, err)
	require.True(t, s.table(storage.TableName{Namespace: "ns1", Qualifier: "t1"}))
	require.Equal(t, 1, logs.FilterMessageSnippet("excluded tables are ignored").Len())
}

func TestScopeInvalid(t *testing.T) {
	log := zaptest.NewLogger(t)

	_, err := newScope(log, []string{"bad name:t1"}, nil)
	require.Error(t, err)

	_, err = newScope(log, nil, []string{"-ns:*"})
	require.Error(t, err)
}
