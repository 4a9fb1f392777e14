// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package schemaadmin_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/columnmanager/repository"
	"storj.io/columnmanager/repository/entitykey"
	"storj.io/columnmanager/repository/repositorytest"
	"storj.io/columnmanager/schemaadmin"
	"storj.io/columnmanager/storage"
)

var ns1t1 = storage.TableName{Namespace: "ns1", Qualifier: "t1"}

func newAdmin(t *testing.T, env *repositorytest.Env) *schemaadmin.Admin {
	return schemaadmin.New(zaptest.NewLogger(t), env.Store, env.Repo)
}

func TestCreateAndModify(t *testing.T) {
	repositorytest.Run(t, func(ctx *testcontext.Context, t *testing.T, env *repositorytest.Env) {
		admin := newAdmin(t, env)

		require.NoError(t, admin.CreateNamespace(ctx, storage.NamespaceDescriptor{Name: "ns1"}))
		require.NoError(t, admin.CreateTable(ctx, storage.TableDescriptor{
			Name:     ns1t1,
			Values:   map[string]string{"OWNER": "alice"},
			Families: []storage.FamilyDescriptor{{Name: "cf1"}, {Name: "cf2"}},
		}))

		repositorytest.VerifyCatalog{
			{Type: entitykey.Namespace, Name: "ns1", Active: true},
			{Type: entitykey.Table, Name: "t1", Active: true},
			{Type: entitykey.ColumnFamily, Name: "cf1", Active: true},
			{Type: entitykey.ColumnFamily, Name: "cf2", Active: true},
		}.Check(ctx, t, env)

		require.NoError(t, admin.ModifyNamespace(ctx, storage.NamespaceDescriptor{
			Name:          "ns1",
			Configuration: map[string]string{"team": "storage"},
		}))
		namespace, err := env.Repo.GetNamespace(ctx, "ns1")
		require.NoError(t, err)
		require.Equal(t, map[string]string{"team": "storage"}, namespace.Configuration)

		require.NoError(t, admin.ModifyTable(ctx, storage.TableDescriptor{
			Name:     ns1t1,
			Values:   map[string]string{"OWNER": "bob"},
			Families: []storage.FamilyDescriptor{{Name: "cf1"}},
		}))
		table, err := env.Repo.GetTable(ctx, ns1t1)
		require.NoError(t, err)
		require.Equal(t, "bob", table.Values["OWNER"])

		require.NoError(t, admin.AddFamily(ctx, ns1t1, storage.FamilyDescriptor{Name: "cf3", MaxVersions: 3}))
		require.NoError(t, admin.ModifyFamily(ctx, ns1t1, storage.FamilyDescriptor{Name: "cf1", MaxVersions: 5}))

		family, err := env.Repo.GetFamily(ctx, ns1t1, "cf1")
		require.NoError(t, err)
		require.Equal(t, "5", family.Values[storage.VersionsKey])

		repositorytest.VerifyCatalog{
			{Type: entitykey.Namespace, Name: "ns1", Active: true},
			{Type: entitykey.Table, Name: "t1", Active: true},
			{Type: entitykey.ColumnFamily, Name: "cf1", Active: true},
			{Type: entitykey.ColumnFamily, Name: "cf2", Active: false},
			{Type: entitykey.ColumnFamily, Name: "cf3", Active: true},
		}.Check(ctx, t, env)

		// live failures are returned unchanged and nothing is recorded
		err = admin.CreateTable(ctx, storage.TableDescriptor{Name: ns1t1})
		require.True(t, storage.ErrTableExists.Has(err), err)
	})
}

func TestDeletes(t *testing.T) {
	repositorytest.Run(t, func(ctx *testcontext.Context, t *testing.T, env *repositorytest.Env) {
		admin := newAdmin(t, env)

		require.NoError(t, admin.CreateNamespace(ctx, storage.NamespaceDescriptor{Name: "ns1"}))
		require.NoError(t, admin.CreateTable(ctx, storage.TableDescriptor{
			Name:     ns1t1,
			Families: []storage.FamilyDescriptor{{Name: "cf1"}, {Name: "cf2"}},
		}))
		repositorytest.Write{Table: ns1t1, Mutations: []storage.Mutation{
			repositorytest.Put("r1", "cf1", "c1", "value"),
		}}.Check(ctx, t, env)
		require.NoError(t, env.Repo.PutColumnDefinitions(ctx, ns1t1, "cf1",
			repository.ColumnDefinition{Qualifier: []byte("c1"), ColumnLength: 10}))

		require.NoError(t, admin.TruncateTable(ctx, ns1t1))
		repositorytest.VerifyCatalog{
			{Type: entitykey.Namespace, Name: "ns1", Active: true},
			{Type: entitykey.Table, Name: "t1", Active: true},
			{Type: entitykey.ColumnFamily, Name: "cf1", Active: true},
			{Type: entitykey.ColumnFamily, Name: "cf2", Active: true},
			{Type: entitykey.ColumnAuditor, Name: "c1", Active: false},
			{Type: entitykey.ColumnDefinition, Name: "c1", Active: true},
		}.Check(ctx, t, env)

		require.NoError(t, admin.DeleteFamily(ctx, ns1t1, "cf2"))
		require.NoError(t, admin.DeleteTable(ctx, ns1t1))
		require.NoError(t, admin.DeleteNamespace(ctx, "ns1"))

		repositorytest.VerifyCatalog{
			{Type: entitykey.Namespace, Name: "ns1", Active: false},
			{Type: entitykey.Table, Name: "t1", Active: false},
			{Type: entitykey.ColumnFamily, Name: "cf1", Active: false},
			{Type: entitykey.ColumnFamily, Name: "cf2", Active: false},
			{Type: entitykey.ColumnAuditor, Name: "c1", Active: false},
			{Type: entitykey.ColumnDefinition, Name: "c1", Active: false},
		}.Check(ctx, t, env)

		_, err := env.Store.GetNamespace(ctx, "ns1")
		require.True(t, storage.ErrNamespaceNotFound.Has(err), err)
	})
}

func TestUntracked(t *testing.T) {
	config := repositorytest.Config()
	config.ExcludedTables = []string{"ns2:*"}

	repositorytest.RunWithConfig(t, config, func(ctx *testcontext.Context, t *testing.T, env *repositorytest.Env) {
		admin := newAdmin(t, env)
		ns2t1 := storage.TableName{Namespace: "ns2", Qualifier: "t1"}

		require.NoError(t, admin.CreateNamespace(ctx, storage.NamespaceDescriptor{Name: "ns2"}))
		require.NoError(t, admin.CreateTable(ctx, storage.TableDescriptor{
			Name:     ns2t1,
			Families: []storage.FamilyDescriptor{{Name: "cf1"}},
		}))
		require.NoError(t, admin.AddFamily(ctx, ns2t1, storage.FamilyDescriptor{Name: "cf2"}))
		require.NoError(t, admin.TruncateTable(ctx, ns2t1))
		require.NoError(t, admin.DeleteFamily(ctx, ns2t1, "cf2"))

		exists, err := admin.TableExists(ctx, ns2t1)
		require.NoError(t, err)
		require.True(t, exists)

		require.NoError(t, admin.DeleteTable(ctx, ns2t1))
		require.NoError(t, admin.DeleteNamespace(ctx, "ns2"))

		repositorytest.VerifyCatalog{}.Check(ctx, t, env)
	})
}
