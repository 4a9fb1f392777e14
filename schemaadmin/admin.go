// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package schemaadmin applies live schema changes and records them in the catalog.
package schemaadmin

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/columnmanager/repository"
	"storj.io/columnmanager/storage"
)

var mon = monkit.Package()

// Error is the default error class for schema administration.
var Error = errs.Class("schemaadmin")

// Admin implements storage.Admin. Every change is first applied to the live
// schema and then recorded in the catalog. Reads go to the live schema.
type Admin struct {
	storage.Admin

	log  *zap.Logger
	repo *repository.Repository
}

var _ storage.Admin = (*Admin)(nil)

// New returns an admin applying changes to live and recording them in repo.
func New(log *zap.Logger, live storage.Admin, repo *repository.Repository) *Admin {
	return &Admin{
		Admin: live,
		log:   log,
		repo:  repo,
	}
}

// CreateNamespace creates and records a namespace.
func (admin *Admin) CreateNamespace(ctx context.Context, desc storage.NamespaceDescriptor) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := admin.Admin.CreateNamespace(ctx, desc); err != nil {
		return err
	}
	return admin.recordNamespace(ctx, desc.Name)
}

// ModifyNamespace modifies and records a namespace.
func (admin *Admin) ModifyNamespace(ctx context.Context, desc storage.NamespaceDescriptor) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := admin.Admin.ModifyNamespace(ctx, desc); err != nil {
		return err
	}
	return admin.recordNamespace(ctx, desc.Name)
}

func (admin *Admin) recordNamespace(ctx context.Context, name string) error {
	desc, err := admin.Admin.GetNamespace(ctx, name)
	if err != nil {
		return admin.recordFailed(err)
	}
	_, err = admin.repo.PutNamespace(ctx, desc)
	return admin.recordFailed(err)
}

// DeleteNamespace deletes a namespace and marks it deleted in the catalog.
func (admin *Admin) DeleteNamespace(ctx context.Context, name string) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := admin.Admin.DeleteNamespace(ctx, name); err != nil {
		return err
	}
	if !admin.repo.IsIncludedNamespace(name) {
		return nil
	}
	return admin.recordFailed(admin.repo.DeleteNamespace(ctx, name))
}

// CreateTable creates and records a table with its column families.
func (admin *Admin) CreateTable(ctx context.Context, desc storage.TableDescriptor) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := admin.Admin.CreateTable(ctx, desc); err != nil {
		return err
	}
	return admin.recordTable(ctx, desc.Name)
}

// ModifyTable modifies and records a table. Removed families are marked deleted.
func (admin *Admin) ModifyTable(ctx context.Context, desc storage.TableDescriptor) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := admin.Admin.ModifyTable(ctx, desc); err != nil {
		return err
	}
	return admin.recordTable(ctx, desc.Name)
}

func (admin *Admin) recordTable(ctx context.Context, name storage.TableName) error {
	if !admin.repo.IsIncludedTable(name) {
		return nil
	}
	desc, err := admin.Admin.GetTable(ctx, name)
	if err != nil {
		return admin.recordFailed(err)
	}
	_, err = admin.repo.PutTable(ctx, desc)
	return admin.recordFailed(err)
}

// DeleteTable deletes a table and marks it deleted in the catalog.
func (admin *Admin) DeleteTable(ctx context.Context, name storage.TableName) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := admin.Admin.DeleteTable(ctx, name); err != nil {
		return err
	}
	if !admin.repo.IsIncludedTable(name) {
		return nil
	}
	return admin.recordFailed(admin.repo.DeleteTable(ctx, name))
}

// TruncateTable removes all rows of a table and marks the column auditors
// collected for it deleted. Column definitions are kept.
func (admin *Admin) TruncateTable(ctx context.Context, name storage.TableName) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := admin.Admin.TruncateTable(ctx, name); err != nil {
		return err
	}
	if !admin.repo.IsIncludedTable(name) {
		return nil
	}
	return admin.recordFailed(admin.repo.TruncateTableColumns(ctx, name))
}

// AddFamily adds and records a column family.
func (admin *Admin) AddFamily(ctx context.Context, table storage.TableName, desc storage.FamilyDescriptor) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := admin.Admin.AddFamily(ctx, table, desc); err != nil {
		return err
	}
	return admin.recordFamily(ctx, table, desc.Name)
}

// ModifyFamily modifies and records a column family.
func (admin *Admin) ModifyFamily(ctx context.Context, table storage.TableName, desc storage.FamilyDescriptor) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := admin.Admin.ModifyFamily(ctx, table, desc); err != nil {
		return err
	}
	return admin.recordFamily(ctx, table, desc.Name)
}

func (admin *Admin) recordFamily(ctx context.Context, table storage.TableName, family string) error {
	if !admin.repo.IsIncludedTable(table) {
		return nil
	}
	desc, err := admin.Admin.GetTable(ctx, table)
	if err != nil {
		return admin.recordFailed(err)
	}
	familyDesc, ok := desc.Family(family)
	if !ok {
		return admin.recordFailed(storage.ErrFamilyNotFound.New("%s:%s", table, family))
	}
	_, err = admin.repo.PutFamily(ctx, table, familyDesc)
	return admin.recordFailed(err)
}

// DeleteFamily removes a column family and marks it deleted in the catalog.
func (admin *Admin) DeleteFamily(ctx context.Context, table storage.TableName, family string) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := admin.Admin.DeleteFamily(ctx, table, family); err != nil {
		return err
	}
	if !admin.repo.IsIncludedTable(table) {
		return nil
	}
	return admin.recordFailed(admin.repo.DeleteFamily(ctx, table, family))
}

// recordFailed logs and wraps a catalog failure after the live change was applied.
func (admin *Admin) recordFailed(err error) error {
	if err == nil {
		return nil
	}
	admin.log.Error("live schema changed but the catalog was not updated, run discovery to refresh it", zap.Error(err))
	return Error.Wrap(err)
}
