// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package sqlitestore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/columnmanager/storage"
	"storj.io/columnmanager/storage/testsuite"
)

func TestSuite(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, err := Open(ctx, ctx.File("sqlite.db"))
	require.NoError(t, err)
	defer ctx.Check(store.Close)

	testsuite.RunTests(t, store)
}

func TestReopen(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	path := ctx.File("reopen.db")
	name := storage.NewTableName("", "persisted")

	store, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.CreateTable(ctx, storage.TableDescriptor{
		Name:     name,
		Families: []storage.FamilyDescriptor{{Name: "f", MaxVersions: 2}},
	}))
	table, err := store.OpenTable(ctx, name)
	require.NoError(t, err)
	first, err := table.Mutate(ctx, *storage.NewMutation([]byte("r")).Put("f", []byte("q"), []byte("v1")))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(ctx, path)
	require.NoError(t, err)
	defer ctx.Check(store.Close)

	table, err = store.OpenTable(ctx, name)
	require.NoError(t, err)
	for _, value := range []string{"v2", "v3"} {
		ts, err := table.Mutate(ctx, *storage.NewMutation([]byte("r")).Put("f", []byte("q"), []byte(value)))
		require.NoError(t, err)
		require.Greater(t, ts, first)
	}

	row, err := table.Get(ctx, []byte("r"), storage.ReadOptions{AllVersions: true})
	require.NoError(t, err)
	versions := row.Versions("f", []byte("q"))
	require.Len(t, versions, 2)
	require.Equal(t, "v3", string(versions[0].Value))
	require.Equal(t, "v2", string(versions[1].Value))
}
