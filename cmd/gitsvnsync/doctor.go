// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/microsoft/gitsvnsync/internal/store"
	"github.com/microsoft/gitsvnsync/subcmd"
)

func init() {
	subcommands = append(subcommands, new(doctorCmd))
}

type doctorCmd struct{}

func (doctorCmd) Name() string { return "doctor" }

func (doctorCmd) Summary() string {
	return "Check that the local environment can run the daemon."
}

func (doctorCmd) Description() string {
	return `

Verifies the "git" and "svn" binaries are on PATH, the config file parses and validates, the
credential environment variables it names are actually set, and the database opens. Does not talk
to the SVN server or GitHub API.
`
}

func (doctorCmd) Handle(p subcmd.ParseFunc) error {
	cfgPath := configFlag()
	if err := p(); err != nil {
		return err
	}

	var problems []string

	for _, bin := range []string{"git", "svn"} {
		if _, err := exec.LookPath(bin); err != nil {
			problems = append(problems, fmt.Sprintf("%q not found on PATH", bin))
		}
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		problems = append(problems, err.Error())
	} else {
		if os.Getenv(cfg.SVN.PasswordEnv) == "" {
			problems = append(problems, fmt.Sprintf("svn.password_env %q is not set", cfg.SVN.PasswordEnv))
		}
		if os.Getenv(cfg.GitHub.TokenEnv) == "" {
			problems = append(problems, fmt.Sprintf("github.token_env %q is not set", cfg.GitHub.TokenEnv))
		}

		layout := cfg.Layout()
		if err := os.MkdirAll(cfg.Personal.DataDir, 0o755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create data dir: %v", err))
		} else if st, err := store.Open(layout.DBPath); err != nil {
			problems = append(problems, fmt.Sprintf("cannot open database: %v", err))
		} else {
			st.Close()
		}
	}

	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Println("problem:", p)
		}
		return fmt.Errorf("%d problem(s) found", len(problems))
	}

	fmt.Println("doctor: no problems found")
	return nil
}
