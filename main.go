// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/cli"
	colorable "github.com/mattn/go-colorable"

	"github.com/hashicorp/labrador/command"
	"github.com/hashicorp/labrador/version"
)

func main() {
	os.Exit(Run(os.Args[1:]))
}

// Run runs the CLI with the given args and returns the exit code.
func Run(args []string) int {
	// Create the meta object
	metaPtr := new(command.Meta)

	// The Labrador agent never outputs color
	agentUi := &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      colorable.NewColorableStdout(),
		ErrorWriter: colorable.NewColorableStderr(),
	}

	metaPtr.SetupUi(args)

	commands := command.Commands(metaPtr, agentUi)
	cli := &cli.CLI{
		Name:         "labrador",
		Version:      version.GetVersion().FullVersionNumber(true),
		Args:         args,
		Commands:     commands,
		Autocomplete: true,
		HelpFunc:     cli.BasicHelpFunc("labrador"),
		HelpWriter:   os.Stdout,
	}

	exitCode, err := cli.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing CLI: %s\n", err.Error())
		return 1
	}

	return exitCode
}
