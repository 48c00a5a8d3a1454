package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/repchat/internal/logging"
)

// MergeCommand returns the maintenance command that collapses duplicate
// conversations sharing a customer and representative.
func MergeCommand() *cli.Command {
	return &cli.Command{
		Name:  "merge",
		Usage: "Collapse duplicate conversations",
		Subcommands: []*cli.Command{
			{
				Name:   "preview",
				Usage:  "Report what a merge would do without changing anything",
				Action: runMergePreview,
			},
			{
				Name:  "run",
				Usage: "Merge duplicate conversations now",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "log-dir",
						Usage: "Write a run log to `DIR`",
						Value: "merge_logs",
					},
				},
				Action: runMerge,
			},
			{
				Name:  "queue",
				Usage: "Enqueue a merge run for the API server's job workers",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "requested-by",
						Usage: "Actor recorded on the job",
						Value: "cli",
					},
				},
				Action: runMergeQueue,
			},
		},
	}
}

func runMergePreview(c *cli.Context) error {
	a, err := cliApp(c, false)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.merger.PreviewDuplicates(c.Context)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runMerge(c *cli.Context) error {
	a, err := cliApp(c, false)
	if err != nil {
		return err
	}
	defer a.close()

	var runLog *logging.RunLogger
	if dir := c.String("log-dir"); dir != "" {
		if runLog, err = logging.StartRunLogging(dir, "merge", uuid.NewString()); err != nil {
			return err
		}
		defer runLog.Close()
	}

	runLog.LogSection("MERGE DUPLICATES")
	report, err := a.merger.MergeDuplicates(c.Context)
	if err != nil {
		runLog.Log("merge failed: %v", err)
		return err
	}
	runLog.Log("scanned %d conversations, %d groups, %d messages moved", report.Scanned, len(report.Groups), report.MessagesMoved())
	if p := runLog.Path(); p != "" {
		fmt.Fprintf(os.Stderr, "Run log written to %s\n", p)
	}
	return printJSON(report)
}

func runMergeQueue(c *cli.Context) error {
	a, err := cliApp(c, true)
	if err != nil {
		return err
	}
	defer a.close()

	if a.queue == nil {
		return fmt.Errorf("job queue is disabled, set jobs.enabled and database.url")
	}
	id, err := a.queue.QueueMergeDuplicates(c.Context, c.String("requested-by"))
	if err != nil {
		return err
	}
	fmt.Printf("Queued merge job %d\n", id)
	return nil
}

func cliApp(c *cli.Context, withQueue bool) (*app, error) {
	cfg, err := loadValidConfig(c)
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Pretty)
	return buildApp(c.Context, cfg, withQueue)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
