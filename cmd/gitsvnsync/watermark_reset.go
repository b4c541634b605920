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
	subcommands = append(subcommands, new(watermarkResetCmd))
}

type watermarkResetCmd struct{}

func (watermarkResetCmd) Name() string { return "watermark-reset" }

func (watermarkResetCmd) Summary() string {
	return "Force a watermark to a specific value."
}

func (watermarkResetCmd) Description() string {
	return `

Overwrites the svn_last_rev or git_last_pr_time watermark, for recovering from a bad replay or
re-running history after a mapping fix. Use with care: this does not undo anything already
written to either repository, it only changes where the next cycle resumes from.
`
}

func (watermarkResetCmd) Handle(p subcmd.ParseFunc) error {
	cfgPath := configFlag()
	source := flag.String("source", "", "[Required] One of svn_last_rev, git_last_pr_time.")
	value := flag.String("value", "", "[Required] The new watermark value.")
	if err := p(); err != nil {
		return err
	}

	switch *source {
	case store.WatermarkSvnLastRev, store.WatermarkGitLastPrTime:
	default:
		return fmt.Errorf("unknown watermark source %q", *source)
	}
	if *value == "" {
		return fmt.Errorf("no value specified")
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

	return d.store.PutWatermark(ctx, *source, *value)
}
