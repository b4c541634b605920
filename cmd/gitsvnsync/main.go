// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Command gitsvnsync runs the bidirectional SVN<->GitHub sync daemon, or a one-shot
// administrative operation against its data directory.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/microsoft/gitsvnsync/config"
	"github.com/microsoft/gitsvnsync/subcmd"
)

const description = `
gitsvnsync bridges one SVN repository path and one GitHub repository, replaying commits in both
directions. The subcommands implement a single sync cycle, the long-running scheduler, and the
operator tools for inspecting and resolving conflicts.
`

// subcommands is the list of subcommand options, populated by each file's init function.
var subcommands []subcmd.Option

func main() {
	if err := subcmd.Run("gitsvnsync", description, subcommands); err != nil {
		log.Fatal(err)
	}
}

func configFlag() *string {
	return flag.String("config", "", "[Required] Path to the JSON configuration file.")
}

// loadConfig reads and validates the configuration file at path. The file is JSON, with field
// names and nesting matching config.Config exactly.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, errors.New("no config file specified")
	}
	var cfg config.Config
	if err := decodeJSONFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// parseRepo splits a "owner/name" repository identifier.
func parseRepo(repo string) (owner, name string, err error) {
	owner, name, found := strings.Cut(repo, "/")
	if !found {
		return "", "", fmt.Errorf("unable to split repo into owner and name: %v", repo)
	}
	return owner, name, nil
}
