// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package columnaudit_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"storj.io/common/testcontext"
	"storj.io/columnmanager/columnaudit"
	"storj.io/columnmanager/repository"
	"storj.io/columnmanager/repository/repositorytest"
	"storj.io/columnmanager/storage"
)

var ns1t1 = storage.TableName{Namespace: "ns1", Qualifier: "t1"}

func setup(ctx *testcontext.Context, t *testing.T, env *repositorytest.Env) (*columnaudit.Auditor, storage.Table) {
	repositorytest.CreateTable{Desc: storage.TableDescriptor{
		Name: ns1t1,
		Families: []storage.FamilyDescriptor{
			{Name: "cf1"},
			{Name: "cf2"},
		},
	}}.Check(ctx, t, env)

	table, err := env.Store.OpenTable(ctx, ns1t1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = table.Close() })

	return columnaudit.New(zaptest.NewLogger(t), env.Repo), table
}

func latest(ctx *testcontext.Context, t *testing.T, table storage.Table, row, family, qualifier string) (string, bool) {
	r, err := table.Get(ctx, []byte(row), storage.ReadOptions{})
	require.NoError(t, err)
	value, ok := r.Latest(family, []byte(qualifier))
	return string(value), ok
}

func TestWriteRecords(t *testing.T) {
	repositorytest.Run(t, func(ctx *testcontext.Context, t *testing.T, env *repositorytest.Env) {
		auditor, table := setup(ctx, t, env)

		require.NoError(t, auditor.Write(ctx, table, repositorytest.Put("r1", "cf1", "c1", "ab")))
		require.NoError(t, auditor.Write(ctx, table, repositorytest.Put("r2", "cf1", "c1", strings.Repeat("x", 82))))

		repositorytest.VerifyAuditors{Table: ns1t1, Family: "cf1", Result: []repository.ColumnAuditor{
			{Qualifier: []byte("c1"), MaxValueLengthFound: 82},
		}}.Check(ctx, t, env)

		value, ok := latest(ctx, t, table, "r1", "cf1", "c1")
		require.True(t, ok)
		require.Equal(t, "ab", value)
	})
}

func TestEnforcement(t *testing.T) {
	repositorytest.Run(t, func(ctx *testcontext.Context, t *testing.T, env *repositorytest.Env) {
		auditor, table := setup(ctx, t, env)

		require.NoError(t, env.Repo.PutColumnDefinitions(ctx, ns1t1, "cf1",
			repository.ColumnDefinition{Qualifier: []byte("c1"), ColumnLength: 5},
			repository.ColumnDefinition{Qualifier: []byte("code"), ColumnValidationRegex: "[A-Z]{3}"},
		))

		// definitions are not checked until enforcement is enabled
		require.NoError(t, auditor.Write(ctx, table, repositorytest.Put("r0", "cf1", "c2", "anything")))
		require.NoError(t, env.Repo.SetColumnDefinitionsEnforced(ctx, true, ns1t1, "cf1"))

		require.NoError(t, auditor.Write(ctx, table, repositorytest.Put("r1", "cf1", "c1", "12345")))

		versions := repositorytest.CountVersions(ctx, t, env)

		err := auditor.Write(ctx, table, repositorytest.Put("r2", "cf1", "c1", "123456"))
		require.True(t, columnaudit.ErrValueTooLong.Has(err), err)

		err = auditor.Write(ctx, table, repositorytest.Put("r2", "cf1", "c2", "x"))
		require.True(t, columnaudit.ErrColumnDefinitionNotFound.Has(err), err)

		err = auditor.Write(ctx, table, repositorytest.Put("r2", "cf1", "code", "ABCD"))
		require.True(t, columnaudit.ErrValuePatternMismatch.Has(err), err)

		err = auditor.Write(ctx, table,
			repositorytest.Put("r3", "cf1", "c1", "ok"),
			repositorytest.Put("r3", "cf1", "c1", "too long"),
		)
		require.True(t, columnaudit.ErrValueTooLong.Has(err), err)

		require.Equal(t, versions, repositorytest.CountVersions(ctx, t, env))
		for _, row := range []string{"r2", "r3"} {
			r, err := table.Get(ctx, []byte(row), storage.ReadOptions{})
			require.NoError(t, err)
			require.True(t, r.IsEmpty(), row)
		}

		require.NoError(t, auditor.Write(ctx, table, repositorytest.Put("r4", "cf1", "code", "ABC")))
		require.NoError(t, auditor.Write(ctx, table, repositorytest.Put("r4", "cf2", "free", "not enforced")))
		require.NoError(t, auditor.Write(ctx, table, *storage.NewMutation([]byte("r1")).Delete("cf1", []byte("undefined"))))

		repositorytest.VerifyAuditors{Table: ns1t1, Family: "cf1", Result: []repository.ColumnAuditor{
			{Qualifier: []byte("c1"), MaxValueLengthFound: 5},
			{Qualifier: []byte("c2"), MaxValueLengthFound: 8},
			{Qualifier: []byte("code"), MaxValueLengthFound: 3},
		}}.Check(ctx, t, env)
	})
}

func TestUntrackedTable(t *testing.T) {
	config := repositorytest.Config()
	config.ExcludedTables = []string{"ns1:t1"}

	repositorytest.RunWithConfig(t, config, func(ctx *testcontext.Context, t *testing.T, env *repositorytest.Env) {
		auditor, table := setup(ctx, t, env)

		require.NoError(t, auditor.Write(ctx, table, repositorytest.Put("r1", "cf1", "c1", "value")))
		value, ok := latest(ctx, t, table, "r1", "cf1", "c1")
		require.True(t, ok)
		require.Equal(t, "value", value)

		repositorytest.VerifyCatalog{}.Check(ctx, t, env)
	})
}

func TestConcurrentWrites(t *testing.T) {
	repositorytest.Run(t, func(ctx *testcontext.Context, t *testing.T, env *repositorytest.Env) {
		auditor, table := setup(ctx, t, env)

		const writers = 10
		group, gctx := errgroup.WithContext(ctx)
		for i := writers; i > 0; i-- {
			value := strings.Repeat("z", i)
			group.Go(func() error {
				return auditor.Write(gctx, table, repositorytest.Put("row", "cf1", "c1", value))
			})
		}
		require.NoError(t, group.Wait())

		repositorytest.VerifyAuditors{Table: ns1t1, Family: "cf1", Result: []repository.ColumnAuditor{
			{Qualifier: []byte("c1"), MaxValueLengthFound: writers},
		}}.Check(ctx, t, env)
	})
}
