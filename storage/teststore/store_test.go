// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package teststore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/columnmanager/storage"
	"storj.io/columnmanager/storage/testsuite"
)

func TestSuite(t *testing.T) {
	testsuite.RunTests(t, New())
}

func TestForceError(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store := New()
	name := storage.NewTableName("", "forced")
	require.NoError(t, store.CreateTable(ctx, storage.TableDescriptor{
		Name:     name,
		Families: []storage.FamilyDescriptor{{Name: "f"}},
	}))
	table, err := store.OpenTable(ctx, name)
	require.NoError(t, err)

	store.ForceError(1)
	_, err = table.Get(ctx, []byte("r"), storage.ReadOptions{})
	require.True(t, ErrForced.Has(err), err)

	_, err = table.Get(ctx, []byte("r"), storage.ReadOptions{})
	require.NoError(t, err)

	require.Equal(t, 2, store.CallCount.Get)
	require.Equal(t, 1, store.CallCount.OpenTable)
}
