// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package testsuite

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/columnmanager/storage"
)

var tableCounter int64

// newTable creates a uniquely named table in the default namespace.
func newTable(ctx *testcontext.Context, t testing.TB, store storage.Store, families ...storage.FamilyDescriptor) storage.Table {
	t.Helper()

	name := storage.NewTableName(storage.DefaultNamespace, fmt.Sprintf("suite_%d", atomic.AddInt64(&tableCounter, 1)))
	require.NoError(t, store.CreateTable(ctx, storage.TableDescriptor{
		Name:     name,
		Families: families,
	}))

	table, err := store.OpenTable(ctx, name)
	require.NoError(t, err)
	t.Cleanup(func() { _ = table.Close() })
	return table
}

func put(ctx context.Context, t testing.TB, table storage.Table, row, family, qualifier, value string) int64 {
	t.Helper()
	ts, err := table.Mutate(ctx, *storage.NewMutation([]byte(row)).Put(family, []byte(qualifier), []byte(value)))
	require.NoError(t, err)
	return ts
}

func scanKeys(ctx context.Context, t testing.TB, table storage.Table, opts storage.ScanOptions) []string {
	t.Helper()
	var keys []string
	err := table.Scan(ctx, opts, func(ctx context.Context, row storage.Row) error {
		keys = append(keys, string(row.Key))
		return nil
	})
	require.NoError(t, err)
	return keys
}

func values(cells []storage.Cell) []string {
	var result []string
	for _, cell := range cells {
		result = append(result, string(cell.Value))
	}
	return result
}
