// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/posener/complete"
)

type StatusCommand struct {
	Meta
}

func (c *StatusCommand) Help() string {
	helpText := `
Usage: labrador status [options]

  Display the status of the extraction pipeline: the scheduler loop, the
  batch orchestrator tallies, the push hub population and the OCR queue
  depth.

  The status endpoint requires a token; pass -token or set LABRADOR_TOKEN.

General Options:

  ` + generalOptionsUsage() + `
`
	return strings.TrimSpace(helpText)
}

func (c *StatusCommand) Synopsis() string {
	return "Display the status of the extraction pipeline"
}

func (c *StatusCommand) AutocompleteFlags() complete.Flags {
	return c.Meta.AutocompleteFlags(FlagSetClient)
}

func (c *StatusCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *StatusCommand) Name() string { return "status" }

func (c *StatusCommand) Run(args []string) int {
	flags := c.Meta.FlagSet(c.Name(), FlagSetClient)
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	if err := flags.Parse(args); err != nil {
		return 1
	}

	// Check for extra arguments
	if args = flags.Args(); len(args) != 0 {
		c.Ui.Error("This command takes no arguments")
		c.Ui.Error(commandErrorText(c))
		return 1
	}

	client, err := c.Meta.Client()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error initializing client: %s", err))
		return 1
	}

	status, err := client.Agent().Status(context.Background())
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error querying status: %s", err))
		return 1
	}

	basic := []string{
		fmt.Sprintf("Scheduler Running|%v", status.Scheduler.Running),
		fmt.Sprintf("Started At|%s", formatTime(status.Scheduler.StartedAt)),
		fmt.Sprintf("Last Iteration|%s", formatTime(status.Scheduler.LastRanAt)),
		fmt.Sprintf("Iterations|%d", status.Orchestrator.Iterations),
		fmt.Sprintf("Task Runtime|%s", status.Scheduler.TotalRuntime.Round(time.Millisecond)),
	}
	c.Ui.Output(formatKV(basic))

	c.Ui.Output(c.Colorize().Color("\n[bold]Queue[reset]"))
	queue := []string{
		fmt.Sprintf("Available|%d", status.Queue.Available),
		fmt.Sprintf("In-Flight|%d", status.Queue.InFlight),
	}
	c.Ui.Output(formatKV(queue))

	c.Ui.Output(c.Colorize().Color("\n[bold]Batches[reset]"))
	last := status.Orchestrator.Last
	total := status.Orchestrator.Total
	batches := []string{
		fmt.Sprintf("Reserved|%d (%d total)", last.Reserved, total.Reserved),
		fmt.Sprintf("Processed|%d (%d total)", last.Processed, total.Processed),
		fmt.Sprintf("Failed|%d (%d total)", last.Failed, total.Failed),
		fmt.Sprintf("Skipped|%d (%d total)", last.Skipped, total.Skipped),
	}
	c.Ui.Output(formatKV(batches))

	c.Ui.Output(c.Colorize().Color("\n[bold]Sessions[reset]"))
	sessions := []string{
		fmt.Sprintf("Active Sessions|%d", status.Hub.ActiveSessions),
		fmt.Sprintf("Connected Users|%d", status.Hub.TotalUsers),
		fmt.Sprintf("Total Connections|%d", status.Hub.TotalConnections),
	}
	c.Ui.Output(formatKV(sessions))

	return 0
}
