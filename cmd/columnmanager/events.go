// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/process"
	"storj.io/columnmanager/changeevent"
	"storj.io/columnmanager/repository"
	"storj.io/columnmanager/storage"
)

var (
	eventsCmd = &cobra.Command{
		Use:   "events",
		Short: "Export the catalog change history as CSV",
		Args:  cobra.NoArgs,
		RunE:  cmdEvents,
	}

	eventsCfg eventsQuery
)

// eventsQuery selects the exported change events.
type eventsQuery struct {
	Output string
	Order  string

	User       string
	Namespace  string
	Table      string
	Family     string
	Auditor    string
	Definition string
	Attribute  string
}

func init() {
	flags := eventsCmd.Flags()
	flags.StringVar(&eventsCfg.Output, "output", "", "output file, stdout when empty")
	flags.StringVar(&eventsCfg.Order, "order", "time", "order of all events: time, user or entity")
	flags.StringVar(&eventsCfg.User, "user", "", "only events made by the user")
	flags.StringVar(&eventsCfg.Namespace, "namespace", "", "only events of the namespace")
	flags.StringVar(&eventsCfg.Table, "table", "", "only events of the table, as namespace:table")
	flags.StringVar(&eventsCfg.Family, "family", "", "only events of the column family of --table")
	flags.StringVar(&eventsCfg.Auditor, "auditor", "", "only events of the column auditor of --table and --family")
	flags.StringVar(&eventsCfg.Definition, "definition", "", "only events of the column definition of --table and --family")
	flags.StringVar(&eventsCfg.Attribute, "attribute", "", "only events of the attribute of --table or --family")
}

func cmdEvents(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := process.Ctx(cmd)
	defer cancel()
	log := zap.L()

	return withRepository(ctx, log, runCfg, func(ctx context.Context, repo *repository.Repository) (err error) {
		monitor, err := changeevent.Scan(ctx, log.Named("events"), repo)
		if err != nil {
			return err
		}
		events, err := eventsCfg.Select(monitor)
		if err != nil {
			return Error.Wrap(err)
		}

		var w io.Writer = cmd.OutOrStdout()
		if eventsCfg.Output != "" {
			var file *os.File
			file, err = os.Create(eventsCfg.Output)
			if err != nil {
				return Error.Wrap(err)
			}
			defer func() { err = errs.Combine(err, file.Close()) }()
			w = file
		}
		return changeevent.WriteCSV(w, events)
	})
}

// Select returns the events matching the query.
func (query eventsQuery) Select(monitor *changeevent.Monitor) ([]*changeevent.Event, error) {
	if query.User != "" {
		return monitor.ForUser(query.User), nil
	}
	if query.Namespace != "" {
		return monitor.ForNamespace(query.Namespace)
	}
	if query.Table == "" {
		switch query.Order {
		case "", "time":
			return monitor.All(), nil
		case "user":
			return monitor.ByUser(), nil
		case "entity":
			return monitor.ByEntity(), nil
		}
		return nil, Error.New("unknown order %q", query.Order)
	}

	table, err := storage.ParseTableName(query.Table)
	if err != nil {
		return nil, err
	}
	switch {
	case query.Family == "" && query.Attribute != "":
		return monitor.ForTableAttribute(table, query.Attribute)
	case query.Family == "":
		return monitor.ForTable(table)
	case query.Auditor != "":
		return monitor.ForColumnAuditor(table, query.Family, []byte(query.Auditor))
	case query.Definition != "":
		return monitor.ForColumnDefinition(table, query.Family, []byte(query.Definition))
	case query.Attribute != "":
		return monitor.ForFamilyAttribute(table, query.Family, query.Attribute)
	default:
		return monitor.ForFamily(table, query.Family)
	}
}
