// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package repositorytest runs repository tests against every storage backend.
package repositorytest

import (
	"os"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"storj.io/common/cfgstruct"
	"storj.io/common/testcontext"
	"storj.io/common/testrand"
	"storj.io/columnmanager/repository"
	"storj.io/columnmanager/storage"
	"storj.io/columnmanager/storage/boltstore"
	"storj.io/columnmanager/storage/pgstore"
	"storj.io/columnmanager/storage/redisstore"
	"storj.io/columnmanager/storage/redisstore/testredis"
	"storj.io/columnmanager/storage/sqlitestore"
	"storj.io/columnmanager/storage/teststore"
)

// ActingUser is the user recorded by repositories created in tests.
const ActingUser = "tester"

// Backend opens a store for a single test.
type Backend struct {
	Name string
	Open func(ctx *testcontext.Context, t *testing.T) storage.Store
}

// Backends returns all backends available for testing. Postgres is included
// only when STORJ_TEST_POSTGRES is set.
func Backends() []Backend {
	backends := []Backend{
		{Name: "memory", Open: func(ctx *testcontext.Context, t *testing.T) storage.Store {
			return teststore.New()
		}},
		{Name: "bolt", Open: func(ctx *testcontext.Context, t *testing.T) storage.Store {
			store, err := boltstore.Open(ctx.File("catalog.db"))
			require.NoError(t, err)
			return store
		}},
		{Name: "sqlite", Open: func(ctx *testcontext.Context, t *testing.T) storage.Store {
			store, err := sqlitestore.Open(ctx, ctx.File("catalog.sqlite"))
			require.NoError(t, err)
			return store
		}},
		{Name: "redis", Open: func(ctx *testcontext.Context, t *testing.T) storage.Store {
			server, err := testredis.Mini()
			require.NoError(t, err)
			t.Cleanup(server.Close)

			store, err := redisstore.OpenURL(ctx, server.URL(), redisstore.DefaultPrefix)
			require.NoError(t, err)
			return store
		}},
	}

	if connstr := os.Getenv("STORJ_TEST_POSTGRES"); connstr != "" && !strings.EqualFold(connstr, "omit") {
		backends = append(backends, Backend{Name: "postgres", Open: func(ctx *testcontext.Context, t *testing.T) storage.Store {
			schema := "repositorytest_" + strings.ToLower(testrand.UUID().String()[:8])
			store, err := pgstore.Open(ctx, connstr, schema)
			require.NoError(t, err)
			t.Cleanup(func() { require.NoError(t, store.DropSchema(ctx)) })
			return store
		}})
	}
	return backends
}

// Env is the environment a test runs in.
type Env struct {
	Store storage.Store
	Repo  *repository.Repository
	Log   *zap.Logger
	Logs  *observer.ObservedLogs
}

// Config returns the repository configuration used in tests.
func Config() repository.Config {
	var config repository.Config
	cfgstruct.Bind(pflag.NewFlagSet("", pflag.PanicOnError), &config, cfgstruct.UseTestDefaults())
	config.ActingUser = ActingUser
	return config
}

// Run runs fn against every backend with the test configuration.
func Run(t *testing.T, fn func(ctx *testcontext.Context, t *testing.T, env *Env)) {
	RunWithConfig(t, Config(), fn)
}

// RunWithConfig runs fn against every backend with a specific configuration.
func RunWithConfig(t *testing.T, config repository.Config, fn func(ctx *testcontext.Context, t *testing.T, env *Env)) {
	for _, backend := range Backends() {
		backend := backend
		t.Run(backend.Name, func(t *testing.T) {
			ctx := testcontext.New(t)
			defer ctx.Cleanup()

			store := backend.Open(ctx, t)
			defer ctx.Check(store.Close)

			env := &Env{Store: store}
			var observed zapcore.Core
			observed, env.Logs = observer.New(zap.DebugLevel)
			env.Log = zap.New(zapcore.NewTee(zaptest.NewLogger(t).Core(), observed))

			repo, err := repository.Open(ctx, env.Log, store, config)
			require.NoError(t, err)
			env.Repo = repo
			defer ctx.Check(func() error { return env.Repo.Close() })

			fn(ctx, t, env)
		})
	}
}

// Reopen closes the repository of env and opens a new one with config.
func (env *Env) Reopen(ctx *testcontext.Context, t testing.TB, config repository.Config) {
	require.NoError(t, env.Repo.Close())
	repo, err := repository.Open(ctx, env.Log, env.Store, config)
	require.NoError(t, err)
	env.Repo = repo
}
