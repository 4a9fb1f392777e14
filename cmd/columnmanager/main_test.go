// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/cfgstruct"
	"storj.io/common/testcontext"
	"storj.io/columnmanager/changeevent"
	"storj.io/columnmanager/repository"
	"storj.io/columnmanager/repository/entitykey"
	"storj.io/columnmanager/repository/repositorytest"
	"storj.io/columnmanager/storage"
	"storj.io/columnmanager/storage/redisstore/testredis"
	"storj.io/columnmanager/storage/teststore"
)

func TestConfigDefaults(t *testing.T) {
	var config Config
	cfgstruct.Bind(pflag.NewFlagSet("", pflag.PanicOnError), &config)

	require.Equal(t, "bolt://columnmanager.db", config.Database)
	require.Equal(t, 4, config.Discovery.Parallelism)
	require.True(t, config.Discovery.Columns)
	require.True(t, config.Discovery.Progress)
	require.False(t, config.Repository.Activated)
	require.Equal(t, 50, config.Repository.MaxVersions)

	var testConfig Config
	flags := pflag.NewFlagSet("", pflag.PanicOnError)
	cfgstruct.Bind(flags, &testConfig, cfgstruct.UseTestDefaults())
	require.Equal(t, "memory:", testConfig.Database)
	require.Equal(t, 1, testConfig.Discovery.Parallelism)
	require.True(t, testConfig.Repository.Activated)

	require.NoError(t, flags.Parse([]string{
		"--repository.included-tables=ns1:t1,ns2:*",
		"--discovery.parallelism=8",
	}))
	require.Equal(t, []string{"ns1:t1", "ns2:*"}, testConfig.Repository.IncludedTables)
	require.Equal(t, 8, testConfig.Discovery.Parallelism)
}

func TestOpenStore(t *testing.T) {
	ctx := testcontext.New(t)
	log := zaptest.NewLogger(t)

	server, err := testredis.Mini()
	require.NoError(t, err)
	defer server.Close()

	for _, database := range []string{
		"memory:",
		"bolt://" + ctx.File("store.db"),
		"sqlite://" + ctx.File("store.sqlite"),
		server.URL(),
	} {
		store, err := openStore(ctx, log, database, "")
		require.NoError(t, err, database)

		_, err = store.GetNamespace(ctx, storage.DefaultNamespace)
		require.NoError(t, err, database)
		require.NoError(t, store.Close(), database)
	}

	for _, database := range []string{"", "memory", "bolt://", "sqlite:", "ftp://host/path"} {
		_, err := openStore(ctx, log, database, "")
		require.True(t, Error.Has(err), database)
	}
}

func TestDiscover(t *testing.T) {
	ctx := testcontext.New(t)
	log := zaptest.NewLogger(t)

	store := teststore.New()
	defer ctx.Check(store.Close)

	require.NoError(t, store.CreateNamespace(ctx, storage.NamespaceDescriptor{Name: "ns1"}))
	var tables []storage.TableName
	for i := range 5 {
		name := storage.TableName{Namespace: "ns1", Qualifier: fmt.Sprintf("t%d", i)}
		tables = append(tables, name)
		require.NoError(t, store.CreateTable(ctx, storage.TableDescriptor{
			Name:     name,
			Families: []storage.FamilyDescriptor{{Name: "cf1"}},
		}))

		table, err := store.OpenTable(ctx, name)
		require.NoError(t, err)
		_, err = table.Mutate(ctx, repositorytest.Put("row", "cf1", "c1", fmt.Sprintf("%0*d", i+1, 0)))
		require.NoError(t, err)
		require.NoError(t, table.Close())
	}

	repo, err := repository.Open(ctx, log, store, repositorytest.Config())
	require.NoError(t, err)
	defer ctx.Check(repo.Close)

	require.NoError(t, discover(ctx, log, repo, DiscoveryConfig{Parallelism: 3, Columns: true, Progress: true}, nil, io.Discard))

	for i, name := range tables {
		auditors, err := repo.GetColumnAuditors(ctx, name, "cf1")
		require.NoError(t, err)
		require.Equal(t, []repository.ColumnAuditor{
			{Qualifier: []byte("c1"), MaxValueLengthFound: int64(i + 1)},
		}, auditors)
	}

	discrepancies, err := repo.SynchronizationCheck(ctx)
	require.NoError(t, err)
	require.False(t, discrepancies)

	monitor, err := changeevent.Scan(ctx, log, repo)
	require.NoError(t, err)

	events, err := eventsQuery{Table: "ns1:t2", Family: "cf1", Auditor: "c1"}.Select(monitor)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	for _, event := range events {
		require.Equal(t, "t2", event.Table)
		require.Equal(t, "c1", string(event.Qualifier))
	}

	events, err = eventsQuery{Order: "user"}.Select(monitor)
	require.NoError(t, err)
	require.Equal(t, monitor.ByUser(), events)

	_, err = eventsQuery{Order: "random"}.Select(monitor)
	require.Error(t, err)

	_, err = eventsQuery{Table: "ns1:missing"}.Select(monitor)
	require.True(t, changeevent.ErrEntityNotFound.Has(err), err)
}

// slowStore delays every row read to let concurrent catalog writers overlap.
type slowStore struct{ storage.Store }

func (store slowStore) OpenTable(ctx context.Context, name storage.TableName) (storage.Table, error) {
	table, err := store.Store.OpenTable(ctx, name)
	if err != nil {
		return nil, err
	}
	return slowTable{table}, nil
}

type slowTable struct{ storage.Table }

func (table slowTable) Get(ctx context.Context, row []byte, opts storage.ReadOptions) (storage.Row, error) {
	time.Sleep(time.Millisecond)
	return table.Table.Get(ctx, row, opts)
}

func TestDiscoverParallelNewNamespace(t *testing.T) {
	ctx := testcontext.New(t)
	log := zaptest.NewLogger(t)

	store := teststore.New()
	defer ctx.Check(store.Close)

	require.NoError(t, store.CreateNamespace(ctx, storage.NamespaceDescriptor{Name: "ns"}))
	var tables []storage.TableName
	for i := range 8 {
		name := storage.TableName{Namespace: "ns", Qualifier: fmt.Sprintf("t%d", i)}
		tables = append(tables, name)
		require.NoError(t, store.CreateTable(ctx, storage.TableDescriptor{
			Name:     name,
			Families: []storage.FamilyDescriptor{{Name: "cf1"}},
		}))
	}

	repo, err := repository.Open(ctx, log, slowStore{store}, repositorytest.Config())
	require.NoError(t, err)
	defer ctx.Check(repo.Close)

	requested := append([]storage.TableName{tables[3]}, tables...)
	require.NoError(t, discover(ctx, log, repo, DiscoveryConfig{Parallelism: 8}, requested, io.Discard))

	catalogued, err := repo.GetTables(ctx, "ns")
	require.NoError(t, err)
	require.Len(t, catalogued, len(tables))

	namespaces := 0
	tablesInTree := 0
	require.NoError(t, repo.Dump(ctx, func(ctx context.Context, path []repository.Entity) error {
		switch path[len(path)-1].Type {
		case entitykey.Namespace:
			namespaces++
		case entitykey.Table:
			tablesInTree++
		}
		return nil
	}))
	require.Equal(t, 1, namespaces)
	require.Equal(t, len(tables), tablesInTree)
}
