// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/microsoft/gitsvnsync/internal/store"
	"github.com/microsoft/gitsvnsync/subcmd"
)

func init() {
	subcommands = append(subcommands, new(conflictsListCmd))
}

type conflictsListCmd struct{}

func (conflictsListCmd) Name() string { return "conflicts-list" }

func (conflictsListCmd) Summary() string {
	return "List conflict records, optionally filtered by status."
}

func (conflictsListCmd) Description() string {
	return `

Prints one line per conflict: id, status, kind, resolution strategy ("-" if none), and path. Pass
-status to narrow to one of detected, queued, deferred, resolved.
`
}

func (conflictsListCmd) Handle(p subcmd.ParseFunc) error {
	cfgPath := configFlag()
	status := flag.String("status", "", "Only list conflicts in this status.")
	if err := p(); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	d, err := buildDaemon(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	rows, err := d.store.ListConflicts(ctx, store.ConflictStatus(*status))
	if err != nil {
		return fmt.Errorf("list conflicts: %w", err)
	}
	if len(rows) == 0 {
		fmt.Println("no matching conflicts")
		return nil
	}
	for _, row := range rows {
		resolution := row.Resolution
		if resolution == "" {
			resolution = "-"
		}
		fmt.Printf("%d\t%s\t%s\t%s\t%s\n", row.ID, row.Status, row.Kind, resolution, row.Path)
	}
	return nil
}
