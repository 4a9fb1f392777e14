// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"storj.io/columnmanager/storage"
	"storj.io/columnmanager/storage/boltstore"
	"storj.io/columnmanager/storage/pgstore"
	"storj.io/columnmanager/storage/redisstore"
	"storj.io/columnmanager/storage/sqlitestore"
	"storj.io/columnmanager/storage/storelogger"
	"storj.io/columnmanager/storage/teststore"
)

// openStore opens the backend described by a connection string:
//
//	memory:
//	bolt://path/to/file.db
//	sqlite://path/to/file.sqlite
//	redis://host:port/db
//	postgres://user@host/database
func openStore(ctx context.Context, log *zap.Logger, database, schema string) (_ storage.Store, err error) {
	defer mon.Task()(&ctx)(&err)

	scheme, rest, ok := strings.Cut(database, ":")
	if !ok {
		return nil, Error.New("invalid database %q", database)
	}

	var store storage.Store
	switch scheme {
	case "memory":
		store = teststore.New()
	case "bolt":
		path := strings.TrimPrefix(rest, "//")
		if path == "" {
			return nil, Error.New("missing bolt path in %q", database)
		}
		store, err = boltstore.Open(path)
	case "sqlite":
		path := strings.TrimPrefix(rest, "//")
		if path == "" {
			return nil, Error.New("missing sqlite path in %q", database)
		}
		store, err = sqlitestore.Open(ctx, path)
	case "redis":
		store, err = redisstore.OpenURL(ctx, database, redisstore.DefaultPrefix)
	case "postgres", "postgresql":
		store, err = pgstore.Open(ctx, database, schema)
	default:
		return nil, Error.New("unsupported database scheme %q", scheme)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return storelogger.New(log.Named("store"), store), nil
}
