// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package boltstore

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

	store, err := Open(ctx.File("bolt.db"))
	require.NoError(t, err)
	defer ctx.Check(store.Close)

	testsuite.RunTests(t, store)
}

func TestReopen(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	path := ctx.File("reopen.db")
	name := storage.NewTableName("", "persisted")

	store, err := Open(path)
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

	store, err = Open(path)
	require.NoError(t, err)
	defer ctx.Check(store.Close)

	desc, err := store.GetTable(ctx, name)
	require.NoError(t, err)
	require.Equal(t, 2, desc.MaxVersions("f"))

	table, err = store.OpenTable(ctx, name)
	require.NoError(t, err)
	second, err := table.Mutate(ctx, *storage.NewMutation([]byte("r")).Put("f", []byte("q"), []byte("v2")))
	require.NoError(t, err)
	require.Greater(t, second, first)

	row, err := table.Get(ctx, []byte("r"), storage.ReadOptions{AllVersions: true})
	require.NoError(t, err)
	require.Len(t, row.Versions("f", []byte("q")), 2)
}
