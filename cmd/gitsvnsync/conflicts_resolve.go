// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/microsoft/gitsvnsync/internal/store"
	"github.com/microsoft/gitsvnsync/subcmd"
)

func init() {
	subcommands = append(subcommands, new(conflictsResolveCmd))
}

type conflictsResolveCmd struct{}

func (conflictsResolveCmd) Name() string { return "conflicts-resolve" }

func (conflictsResolveCmd) Summary() string {
	return "Record an operator's resolution for a queued conflict."
}

func (conflictsResolveCmd) Description() string {
	return `

Marks a conflict resolved with the given strategy (accept-svn, accept-git, accept-merged, or
manual-content). The resolution is not written back to either repository until the next "cycle" or
"serve" run; -manual-content-file is required only for manual-content and supplies the replacement
file content.
`
}

func (conflictsResolveCmd) Handle(p subcmd.ParseFunc) error {
	cfgPath := configFlag()
	id := flag.Int64("id", 0, "[Required] The conflict id to resolve.")
	resolution := flag.String("resolution", "", "[Required] One of accept-svn, accept-git, accept-merged, manual-content.")
	resolver := flag.String("resolver", "", "[Required] Identifier of the person resolving the conflict.")
	manualContentFile := flag.String("manual-content-file", "", "Path to the replacement file content; required for -resolution=manual-content.")
	if err := p(); err != nil {
		return err
	}

	if *id == 0 {
		return fmt.Errorf("no conflict id specified")
	}
	if *resolution == "" {
		return fmt.Errorf("no resolution specified")
	}
	if *resolver == "" {
		return fmt.Errorf("no resolver specified")
	}
	if *resolution == "manual-content" && *manualContentFile == "" {
		return fmt.Errorf("-manual-content-file is required for -resolution=manual-content")
	}

	var manualContent []byte
	if *manualContentFile != "" {
		b, err := os.ReadFile(*manualContentFile)
		if err != nil {
			return fmt.Errorf("read manual content file: %w", err)
		}
		manualContent = b
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

	return d.store.Transaction(ctx, func(tx *store.Tx) error {
		return tx.ResolveConflict(ctx, *id, *resolution, *resolver, manualContent)
	})
}
