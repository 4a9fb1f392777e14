// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package pgstore

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/common/testrand"
	"storj.io/columnmanager/storage/testsuite"
)

// DefaultConnStr is an example connection string for running the tests.
const DefaultConnStr = "postgres://postgres@localhost/teststorj?sslmode=disable"

// ConnStr returns the postgres connection string used for testing.
func ConnStr(t testing.TB) string {
	connstr := os.Getenv("STORJ_TEST_POSTGRES")
	if connstr == "" || strings.EqualFold(connstr, "omit") {
		t.Skipf("postgres flag missing, example:\nSTORJ_TEST_POSTGRES=%s", DefaultConnStr)
	}
	return connstr
}

func TestSuite(t *testing.T) {
	connstr := ConnStr(t)

	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	schema := "pgstore_" + strings.ToLower(testrand.UUID().String()[:8])
	store, err := Open(ctx, connstr, schema)
	require.NoError(t, err)
	defer ctx.Check(store.Close)
	defer ctx.Check(func() error { return store.DropSchema(ctx) })

	testsuite.RunTests(t, store)
}
