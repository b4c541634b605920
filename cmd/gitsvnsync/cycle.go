// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"context"
	"log"

	"github.com/microsoft/gitsvnsync/subcmd"
)

func init() {
	subcommands = append(subcommands, new(cycleCmd))
}

type cycleCmd struct{}

func (cycleCmd) Name() string { return "cycle" }

func (cycleCmd) Summary() string {
	return "Run a single SVN<->Git sync cycle and exit."
}

func (cycleCmd) Description() string {
	return `

Polls the SVN repository and the GitHub repository once each, applies any unsynced revisions and
merged pull requests, replays any conflicts an operator has resolved since the last cycle, then
exits. Intended for cron-driven deployments; see "serve" for a long-running scheduler.
`
}

func (cycleCmd) Handle(p subcmd.ParseFunc) error {
	cfgPath := configFlag()
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

	if err := d.orchestrator.Recover(ctx); err != nil {
		return err
	}
	if err := d.orchestrator.RunCycle(ctx); err != nil {
		log.Printf("cycle completed with errors: %v", err)
		return err
	}
	return nil
}
