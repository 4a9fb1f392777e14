// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package redisstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/columnmanager/storage"
	"storj.io/columnmanager/storage/redisstore/testredis"
	"storj.io/columnmanager/storage/testsuite"
)

func TestSuite(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	server, err := testredis.Mini()
	require.NoError(t, err)
	defer server.Close()

	store, err := OpenURL(ctx, server.URL(), "suite")
	require.NoError(t, err)
	defer ctx.Check(store.Close)

	testsuite.RunTests(t, store)
}

func TestPrefixes(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	server, err := testredis.Start(ctx)
	require.NoError(t, err)
	defer server.Close()

	first, err := OpenURL(ctx, server.URL(), "first")
	require.NoError(t, err)
	defer ctx.Check(first.Close)

	second, err := OpenURL(ctx, server.URL(), "second")
	require.NoError(t, err)
	defer ctx.Check(second.Close)

	name := storage.NewTableName("", "shared")
	require.NoError(t, first.CreateTable(ctx, storage.TableDescriptor{
		Name:     name,
		Families: []storage.FamilyDescriptor{{Name: "f"}},
	}))

	exists, err := second.TableExists(ctx, name)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestInvalidURL(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, err := OpenURL(ctx, "http://localhost", "")
	require.True(t, Error.Has(err), err)
}
