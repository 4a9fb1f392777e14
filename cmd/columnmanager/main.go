// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/cheggaaa/pb/v3"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/common/cfgstruct"
	"storj.io/common/fpath"
	"storj.io/common/process"
	"storj.io/columnmanager/repository"
	"storj.io/columnmanager/storage"
)

var mon = monkit.Package()

// Error is the default error class for the command.
var Error = errs.Class("columnmanager")

// Config is the configuration of the column manager tool.
type Config struct {
	Database       string `help:"storage connection string: memory:, bolt://path, sqlite://path, redis://host:port/db or postgres://..." default:"bolt://columnmanager.db" testDefault:"memory:"`
	PostgresSchema string `help:"postgres schema holding the storage tables" default:""`

	Repository repository.Config
	Discovery  DiscoveryConfig
}

// DiscoveryConfig configures schema discovery.
type DiscoveryConfig struct {
	Parallelism int  `help:"number of tables discovered concurrently" default:"4" testDefault:"1"`
	Columns     bool `help:"read table rows to record the column qualifiers in use" default:"true"`
	Progress    bool `help:"show discovery progress on stderr" default:"true" testDefault:"false"`
}

var (
	rootCmd = &cobra.Command{
		Use:   "columnmanager",
		Short: "Column manager catalog tool",
	}
	syncCheckCmd = &cobra.Command{
		Use:   "sync-check",
		Short: "Compare the catalog with the live schema",
		Args:  cobra.NoArgs,
		RunE:  cmdSyncCheck,
	}
	discoverCmd = &cobra.Command{
		Use:   "discover [namespace:table...]",
		Short: "Record the live schema and its columns in the catalog",
		RunE:  cmdDiscover,
	}
	dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Print the active catalog entities",
		Args:  cobra.NoArgs,
		RunE:  cmdDump,
	}
	setEnforcedCmd = &cobra.Command{
		Use:   "set-enforced namespace:table family true|false",
		Short: "Enable or disable column definition enforcement of a column family",
		Args:  cobra.ExactArgs(3),
		RunE:  cmdSetEnforced,
	}
	defineColumnCmd = &cobra.Command{
		Use:   "define-column namespace:table family qualifier",
		Short: "Create or replace a column definition",
		Args:  cobra.ExactArgs(3),
		RunE:  cmdDefineColumn,
	}

	confDir string
	runCfg  Config

	defineColumnCfg struct {
		length int64
		regex  string
	}
)

func init() {
	defaultConfDir := fpath.ApplicationDir("storj", "columnmanager")
	cfgstruct.SetupFlag(zap.L(), rootCmd, &confDir, "config-dir", defaultConfDir, "main directory for columnmanager configuration")
	defaults := cfgstruct.DefaultsFlag(rootCmd)

	defineColumnCmd.Flags().Int64Var(&defineColumnCfg.length, "length", 0, "maximum value length, 0 for unbounded")
	defineColumnCmd.Flags().StringVar(&defineColumnCfg.regex, "regex", "", "pattern every value must match")

	for _, cmd := range []*cobra.Command{syncCheckCmd, discoverCmd, dumpCmd, setEnforcedCmd, defineColumnCmd, eventsCmd} {
		rootCmd.AddCommand(cmd)
		process.Bind(cmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	}
}

func main() {
	logger, _, _ := process.NewLogger("columnmanager")
	zap.ReplaceGlobals(logger)

	process.Exec(rootCmd)
}

// withRepository opens the store and the repository and calls fn.
func withRepository(ctx context.Context, log *zap.Logger, config Config, fn func(ctx context.Context, repo *repository.Repository) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	store, err := openStore(ctx, log, config.Database, config.PostgresSchema)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, store.Close()) }()

	if !config.Repository.Activated {
		log.Warn("repository is not activated, nothing is tracked; set --repository.activated")
	}

	repo, err := repository.Open(ctx, log.Named("repository"), store, config.Repository)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, repo.Close()) }()

	return fn(ctx, repo)
}

func cmdSyncCheck(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := process.Ctx(cmd)
	defer cancel()
	log := zap.L()

	return withRepository(ctx, log, runCfg, func(ctx context.Context, repo *repository.Repository) error {
		discrepancies, err := repo.SynchronizationCheck(ctx)
		if err != nil {
			return Error.Wrap(err)
		}
		if discrepancies {
			return Error.New("catalog is not in sync with the live schema")
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), "catalog is in sync with the live schema")
		return err
	})
}

func cmdDiscover(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := process.Ctx(cmd)
	defer cancel()
	log := zap.L()

	var requested []storage.TableName
	for _, arg := range args {
		name, err := storage.ParseTableName(arg)
		if err != nil {
			return Error.Wrap(err)
		}
		requested = append(requested, name)
	}

	return withRepository(ctx, log, runCfg, func(ctx context.Context, repo *repository.Repository) error {
		return discover(ctx, log, repo, runCfg.Discovery, requested, cmd.ErrOrStderr())
	})
}

// discover records the requested tables, or every tracked table when none
// are requested, using parallel workers.
func discover(ctx context.Context, log *zap.Logger, repo *repository.Repository, config DiscoveryConfig, tables []storage.TableName, progress io.Writer) (err error) {
	defer mon.Task()(&ctx)(&err)

	if len(tables) == 0 {
		tables, err = trackedTables(ctx, repo)
		if err != nil {
			return err
		}
	} else {
		tables, err = requestedTables(ctx, repo, tables)
		if err != nil {
			return err
		}
	}

	var bar *pb.ProgressBar
	if config.Progress {
		bar = pb.New(len(tables)).SetWriter(progress).Start()
		defer bar.Finish()
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(max(config.Parallelism, 1))
	for _, table := range tables {
		group.Go(func() error {
			log.Debug("discovering", zap.Stringer("table", table))
			if err := repo.DiscoverTable(gctx, table, config.Columns); err != nil {
				return err
			}
			if bar != nil {
				bar.Increment()
			}
			return nil
		})
	}
	return Error.Wrap(group.Wait())
}

// requestedTables removes duplicate tables and records their namespaces, so
// that concurrent workers find every namespace in the catalog.
func requestedTables(ctx context.Context, repo *repository.Repository, tables []storage.TableName) ([]storage.TableName, error) {
	tables = slices.Clone(tables)
	slices.SortFunc(tables, storage.TableName.Compare)
	tables = slices.Compact(tables)

	store := repo.Store()
	for i, table := range tables {
		if i > 0 && tables[i-1].Namespace == table.Namespace {
			continue
		}
		if !repo.IsIncludedNamespace(table.Namespace) {
			continue
		}
		desc, err := store.GetNamespace(ctx, table.Namespace)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		if _, err := repo.PutNamespace(ctx, desc); err != nil {
			return nil, Error.Wrap(err)
		}
	}
	return tables, nil
}

// trackedTables records every tracked namespace and returns its tracked tables.
func trackedTables(ctx context.Context, repo *repository.Repository) ([]storage.TableName, error) {
	store := repo.Store()
	namespaces, err := store.ListNamespaces(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	var tables []storage.TableName
	for _, namespace := range namespaces {
		if !repo.IsIncludedNamespace(namespace.Name) {
			continue
		}
		if _, err := repo.PutNamespace(ctx, namespace); err != nil {
			return nil, Error.Wrap(err)
		}
		descs, err := store.ListTables(ctx, namespace.Name)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		for _, desc := range descs {
			if repo.IsIncludedTable(desc.Name) {
				tables = append(tables, desc.Name)
			}
		}
	}
	return tables, nil
}

func cmdDump(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := process.Ctx(cmd)
	defer cancel()
	log := zap.L()

	return withRepository(ctx, log, runCfg, func(ctx context.Context, repo *repository.Repository) error {
		return repo.Dump(ctx, func(ctx context.Context, path []repository.Entity) error {
			entity := path[len(path)-1]
			line := strings.Repeat("  ", len(path)-1) + entity.Type.String() + " " + string(entity.Name)
			if entity.ColumnDefinitionsEnforced {
				line += " (enforced)"
			}
			for _, key := range slices.Sorted(maps.Keys(entity.Values)) {
				line += fmt.Sprintf(" %s=%q", key, entity.Values[key])
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), line)
			return err
		})
	})
}

func cmdSetEnforced(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := process.Ctx(cmd)
	defer cancel()
	log := zap.L()

	table, err := storage.ParseTableName(args[0])
	if err != nil {
		return Error.Wrap(err)
	}
	enabled, err := strconv.ParseBool(args[2])
	if err != nil {
		return Error.Wrap(err)
	}

	return withRepository(ctx, log, runCfg, func(ctx context.Context, repo *repository.Repository) error {
		return Error.Wrap(repo.SetColumnDefinitionsEnforced(ctx, enabled, table, args[1]))
	})
}

func cmdDefineColumn(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := process.Ctx(cmd)
	defer cancel()
	log := zap.L()

	table, err := storage.ParseTableName(args[0])
	if err != nil {
		return Error.Wrap(err)
	}

	return withRepository(ctx, log, runCfg, func(ctx context.Context, repo *repository.Repository) error {
		return Error.Wrap(repo.PutColumnDefinitions(ctx, table, args[1], repository.ColumnDefinition{
			Qualifier:             []byte(args[2]),
			ColumnLength:          defineColumnCfg.length,
			ColumnValidationRegex: defineColumnCfg.regex,
		}))
	})
}
