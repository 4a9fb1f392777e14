// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package testsuite contains the common tests every storage.Store must pass.
package testsuite

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"

	"storj.io/common/testcontext"
	"storj.io/columnmanager/storage"
)

// RunTests runs common storage.Store tests.
func RunTests(t *testing.T, store storage.Store) {
	t.Run("Admin", func(t *testing.T) { testAdmin(t, store) })
	t.Run("CRUD", func(t *testing.T) { testCRUD(t, store) })
	t.Run("Versions", func(t *testing.T) { testVersions(t, store) })
	t.Run("Scan", func(t *testing.T) { testScan(t, store) })
	t.Run("ScanFilter", func(t *testing.T) { testScanFilter(t, store) })
	t.Run("ScanMutate", func(t *testing.T) { testScanMutate(t, store) })
	t.Run("DropData", func(t *testing.T) { testDropData(t, store) })
}

var namespaceCounter int64

func testAdmin(t *testing.T, store storage.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	ns := fmt.Sprintf("suite_ns_%d", atomic.AddInt64(&namespaceCounter, 1))
	name := storage.NewTableName(ns, "t1")

	err := store.CreateTable(ctx, storage.TableDescriptor{
		Name:     name,
		Families: []storage.FamilyDescriptor{{Name: "f"}},
	})
	require.True(t, storage.ErrNamespaceNotFound.Has(err), err)

	require.NoError(t, store.CreateNamespace(ctx, storage.NamespaceDescriptor{
		Name:          ns,
		Configuration: map[string]string{"owner": "alice"},
	}))
	err = store.CreateNamespace(ctx, storage.NamespaceDescriptor{Name: ns})
	require.True(t, storage.ErrNamespaceExists.Has(err), err)

	err = store.CreateNamespace(ctx, storage.NamespaceDescriptor{Name: "bad:name"})
	require.True(t, storage.ErrInvalidName.Has(err), err)

	namespaces, err := store.ListNamespaces(ctx)
	require.NoError(t, err)
	var names []string
	for _, desc := range namespaces {
		names = append(names, desc.Name)
	}
	require.Contains(t, names, storage.DefaultNamespace)
	require.Contains(t, names, ns)

	require.NoError(t, store.ModifyNamespace(ctx, storage.NamespaceDescriptor{
		Name:          ns,
		Configuration: map[string]string{"owner": "bob"},
	}))
	nsDesc, err := store.GetNamespace(ctx, ns)
	require.NoError(t, err)
	require.Equal(t, "bob", nsDesc.Configuration["owner"])

	tableDesc := storage.TableDescriptor{
		Name:          name,
		Values:        map[string]string{"DURABILITY": "SYNC_WAL"},
		Configuration: map[string]string{"split": "none"},
		Families: []storage.FamilyDescriptor{
			{Name: "f2", MaxVersions: 3},
			{Name: "f1", Values: map[string]string{"BLOOMFILTER": "ROW"}},
		},
	}
	require.NoError(t, store.CreateTable(ctx, tableDesc))
	err = store.CreateTable(ctx, tableDesc)
	require.True(t, storage.ErrTableExists.Has(err), err)

	got, err := store.GetTable(ctx, name)
	require.NoError(t, err)
	require.Zero(t, cmp.Diff(storage.TableDescriptor{
		Name:          name,
		Values:        map[string]string{"DURABILITY": "SYNC_WAL"},
		Configuration: map[string]string{"split": "none"},
		Families: []storage.FamilyDescriptor{
			{Name: "f1", Values: map[string]string{"BLOOMFILTER": "ROW"}},
			{Name: "f2", MaxVersions: 3},
		},
	}, got, cmpopts.EquateEmpty()))

	tables, err := store.ListTables(ctx, ns)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	require.Equal(t, name, tables[0].Name)

	exists, err := store.TableExists(ctx, name)
	require.NoError(t, err)
	require.True(t, exists)

	err = store.DeleteNamespace(ctx, ns)
	require.True(t, storage.ErrNamespaceNotEmpty.Has(err), err)

	require.NoError(t, store.AddFamily(ctx, name, storage.FamilyDescriptor{Name: "f3"}))
	err = store.AddFamily(ctx, name, storage.FamilyDescriptor{Name: "f3"})
	require.True(t, storage.ErrFamilyExists.Has(err), err)

	require.NoError(t, store.ModifyFamily(ctx, name, storage.FamilyDescriptor{Name: "f3", MaxVersions: 7}))
	got, err = store.GetTable(ctx, name)
	require.NoError(t, err)
	f3, ok := got.Family("f3")
	require.True(t, ok)
	require.Equal(t, 7, f3.MaxVersions)

	err = store.ModifyFamily(ctx, name, storage.FamilyDescriptor{Name: "missing"})
	require.True(t, storage.ErrFamilyNotFound.Has(err), err)

	require.NoError(t, store.DeleteFamily(ctx, name, "f3"))
	got, err = store.GetTable(ctx, name)
	require.NoError(t, err)
	_, ok = got.Family("f3")
	require.False(t, ok)

	require.NoError(t, store.DeleteTable(ctx, name))
	exists, err = store.TableExists(ctx, name)
	require.NoError(t, err)
	require.False(t, exists)

	_, err = store.OpenTable(ctx, name)
	require.True(t, storage.ErrTableNotFound.Has(err), err)

	require.NoError(t, store.DeleteNamespace(ctx, ns))
	_, err = store.GetNamespace(ctx, ns)
	require.True(t, storage.ErrNamespaceNotFound.Has(err), err)
}

func testCRUD(t *testing.T, store storage.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	table := newTable(ctx, t, store, storage.FamilyDescriptor{Name: "f"}, storage.FamilyDescriptor{Name: "g"})

	row, err := table.Get(ctx, []byte("missing"), storage.ReadOptions{})
	require.NoError(t, err)
	require.True(t, row.IsEmpty())

	_, err = table.Get(ctx, nil, storage.ReadOptions{})
	require.True(t, storage.ErrEmptyRow.Has(err), err)
	_, err = table.Mutate(ctx, *storage.NewMutation(nil).Put("f", []byte("q"), []byte("v")))
	require.True(t, storage.ErrEmptyRow.Has(err), err)

	_, err = table.Mutate(ctx, *storage.NewMutation([]byte("r")).Put("unknown", []byte("q"), []byte("v")))
	require.True(t, storage.ErrFamilyNotFound.Has(err), err)

	ts, err := table.Mutate(ctx, *storage.NewMutation([]byte("r")).
		Put("f", []byte("a"), []byte("1")).
		Put("f", []byte("b"), []byte("2")).
		Put("g", []byte("\x00binary\xff"), []byte{0, 1, 2}))
	require.NoError(t, err)
	require.NotZero(t, ts)

	row, err = table.Get(ctx, []byte("r"), storage.ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, []byte("r"), row.Key)
	require.Len(t, row.Cells, 3)
	for _, cell := range row.Cells {
		require.Equal(t, ts, cell.Timestamp, "all cells of a mutation share a timestamp")
	}
	value, ok := row.Latest("g", []byte("\x00binary\xff"))
	require.True(t, ok)
	require.Equal(t, []byte{0, 1, 2}, value)

	_, err = table.Mutate(ctx, *storage.NewMutation([]byte("r")).Delete("f", []byte("a")))
	require.NoError(t, err)
	row, err = table.Get(ctx, []byte("r"), storage.ReadOptions{})
	require.NoError(t, err)
	_, ok = row.Latest("f", []byte("a"))
	require.False(t, ok)
	_, ok = row.Latest("f", []byte("b"))
	require.True(t, ok)

	_, err = table.Mutate(ctx, storage.Mutation{Row: []byte("r"), DeleteRow: true})
	require.NoError(t, err)
	row, err = table.Get(ctx, []byte("r"), storage.ReadOptions{AllVersions: true})
	require.NoError(t, err)
	require.True(t, row.IsEmpty())
	require.Empty(t, scanKeys(ctx, t, table, storage.ScanOptions{}))
}

func testVersions(t *testing.T, store storage.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	table := newTable(ctx, t, store,
		storage.FamilyDescriptor{Name: "f", MaxVersions: 3},
		storage.FamilyDescriptor{Name: "single"})

	var timestamps []int64
	for _, v := range []string{"1", "2", "3", "4"} {
		timestamps = append(timestamps, put(ctx, t, table, "r", "f", "q", v))
		put(ctx, t, table, "r", "single", "q", v)
	}
	for i := 1; i < len(timestamps); i++ {
		require.Greater(t, timestamps[i], timestamps[i-1])
	}

	row, err := table.Get(ctx, []byte("r"), storage.ReadOptions{AllVersions: true})
	require.NoError(t, err)
	require.Equal(t, []string{"4", "3", "2"}, values(row.Versions("f", []byte("q"))))
	require.Equal(t, []string{"4"}, values(row.Versions("single", []byte("q"))))

	versions := row.Versions("f", []byte("q"))
	require.Equal(t, timestamps[3], versions[0].Timestamp)
	require.Equal(t, timestamps[1], versions[2].Timestamp)

	row, err = table.Get(ctx, []byte("r"), storage.ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"4"}, values(row.Versions("f", []byte("q"))))

	// an explicit timestamp replaces the version written at that time
	_, err = table.Mutate(ctx, storage.Mutation{
		Row:  []byte("r"),
		Puts: []storage.Cell{{Family: "f", Qualifier: []byte("q"), Timestamp: timestamps[2], Value: []byte("3b")}},
	})
	require.NoError(t, err)
	row, err = table.Get(ctx, []byte("r"), storage.ReadOptions{AllVersions: true})
	require.NoError(t, err)
	require.Equal(t, []string{"4", "3b", "2"}, values(row.Versions("f", []byte("q"))))
}

func testScan(t *testing.T, store storage.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	table := newTable(ctx, t, store, storage.FamilyDescriptor{Name: "f"})
	for _, key := range []string{"c", "a", "ba", "b", "b\x00", "b\xff"} {
		put(ctx, t, table, key, "f", "q", key)
	}

	require.Equal(t, []string{"a", "b", "b\x00", "b\xff", "ba", "c"}, scanKeys(ctx, t, table, storage.ScanOptions{}))
	require.Equal(t, []string{"b", "b\x00", "b\xff", "ba"}, scanKeys(ctx, t, table, storage.ScanOptions{
		Start: []byte("b"),
		Stop:  []byte("c"),
	}))
	require.Equal(t, []string{"b"}, scanKeys(ctx, t, table, storage.ScanOptions{
		Start: []byte("b"),
		Stop:  []byte("b\x00"),
	}))
	require.Equal(t, []string{"b\xff", "ba", "c"}, scanKeys(ctx, t, table, storage.ScanOptions{
		Start: []byte("b\xff"),
	}))
	require.Equal(t, []string{"a"}, scanKeys(ctx, t, table, storage.ScanOptions{
		Stop: []byte("b"),
	}))

	// enough rows to span several batches
	many := newTable(ctx, t, store, storage.FamilyDescriptor{Name: "f"})
	var expected []string
	for i := 0; i < 150; i++ {
		key := fmt.Sprintf("row%03d", i)
		expected = append(expected, key)
		put(ctx, t, many, key, "f", "q", key)
	}
	require.Equal(t, expected, scanKeys(ctx, t, many, storage.ScanOptions{}))
	require.Equal(t, expected[10:140], scanKeys(ctx, t, many, storage.ScanOptions{
		Start: []byte("row010"),
		Stop:  []byte("row140"),
	}))

	stop := errs.New("stop")
	visited := 0
	err := many.Scan(ctx, storage.ScanOptions{}, func(ctx context.Context, row storage.Row) error {
		visited++
		if visited == 3 {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 3, visited)
}

func testScanFilter(t *testing.T, store storage.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	table := newTable(ctx, t, store, storage.FamilyDescriptor{Name: "f", MaxVersions: 5})
	put(ctx, t, table, "active", "f", "status", "A")
	put(ctx, t, table, "deleted", "f", "status", "A")
	put(ctx, t, table, "deleted", "f", "status", "D")
	put(ctx, t, table, "reactivated", "f", "status", "D")
	put(ctx, t, table, "reactivated", "f", "status", "A")
	put(ctx, t, table, "unset", "f", "other", "x")

	filter := &storage.ValueFilter{Family: "f", Qualifier: []byte("status"), Value: []byte("A"), FilterIfMissing: true}
	require.Equal(t, []string{"active", "reactivated"}, scanKeys(ctx, t, table, storage.ScanOptions{Filter: filter}))

	filter.FilterIfMissing = false
	require.Equal(t, []string{"active", "reactivated", "unset"}, scanKeys(ctx, t, table, storage.ScanOptions{Filter: filter}))

	var versions []string
	err := table.Scan(ctx, storage.ScanOptions{
		Start:       []byte("reactivated"),
		Stop:        []byte("reactivated\x00"),
		AllVersions: true,
	}, func(ctx context.Context, row storage.Row) error {
		versions = values(row.Versions("f", []byte("status")))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"A", "D"}, versions)
}

func testScanMutate(t *testing.T, store storage.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	table := newTable(ctx, t, store, storage.FamilyDescriptor{Name: "f", MaxVersions: 2})
	var expected []string
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("k%03d", i)
		expected = append(expected, key)
		put(ctx, t, table, key, "f", "status", "A")
	}

	var visited []string
	err := table.Scan(ctx, storage.ScanOptions{}, func(ctx context.Context, row storage.Row) error {
		visited = append(visited, string(row.Key))
		_, err := table.Mutate(ctx, *storage.NewMutation(row.Key).Put("f", []byte("status"), []byte("D")))
		return err
	})
	require.NoError(t, err)
	require.Equal(t, expected, visited)

	active := &storage.ValueFilter{Family: "f", Qualifier: []byte("status"), Value: []byte("A"), FilterIfMissing: true}
	require.Empty(t, scanKeys(ctx, t, table, storage.ScanOptions{Filter: active}))

	// deleting rows while scanning must not skip any
	visited = nil
	err = table.Scan(ctx, storage.ScanOptions{}, func(ctx context.Context, row storage.Row) error {
		visited = append(visited, string(row.Key))
		_, err := table.Mutate(ctx, storage.Mutation{Row: row.Key, DeleteRow: true})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, expected, visited)
	require.Empty(t, scanKeys(ctx, t, table, storage.ScanOptions{}))
}

func testDropData(t *testing.T, store storage.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	table := newTable(ctx, t, store, storage.FamilyDescriptor{Name: "keep"}, storage.FamilyDescriptor{Name: "drop"})
	for _, key := range []string{"a", "b"} {
		put(ctx, t, table, key, "keep", "q", "v")
		put(ctx, t, table, key, "drop", "q", "v")
	}
	put(ctx, t, table, "c", "drop", "q", "v")

	require.NoError(t, store.DeleteFamily(ctx, table.Name(), "drop"))
	require.Equal(t, []string{"a", "b"}, scanKeys(ctx, t, table, storage.ScanOptions{}))
	row, err := table.Get(ctx, []byte("a"), storage.ReadOptions{})
	require.NoError(t, err)
	require.Len(t, row.Cells, 1)
	require.Equal(t, "keep", row.Cells[0].Family)

	require.NoError(t, store.TruncateTable(ctx, table.Name()))
	require.Empty(t, scanKeys(ctx, t, table, storage.ScanOptions{}))

	exists, err := store.TableExists(ctx, table.Name())
	require.NoError(t, err)
	require.True(t, exists)

	desc, err := store.GetTable(ctx, table.Name())
	require.NoError(t, err)
	desc.Families = append(desc.Families, storage.FamilyDescriptor{Name: "extra"})
	require.NoError(t, store.ModifyTable(ctx, desc))
	put(ctx, t, table, "x", "extra", "q", "v")
	put(ctx, t, table, "x", "keep", "q", "v")

	desc.Families = desc.Families[:1]
	require.NoError(t, store.ModifyTable(ctx, desc))
	row, err = table.Get(ctx, []byte("x"), storage.ReadOptions{})
	require.NoError(t, err)
	require.Len(t, row.Cells, 1)
	require.Equal(t, "keep", row.Cells[0].Family)
}
