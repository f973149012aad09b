package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/gantry/capture"
	"github.com/justapithecus/gantry/cli/render"
	"github.com/justapithecus/gantry/iox"
	"github.com/justapithecus/gantry/types"
)

// InspectCommand returns the inspect command for capture files.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Render a capture file written by attach --capture",
		ArgsUsage: "<capture-file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "kind",
				Usage: "Only show records of this kind (log, warning, error, unknown)",
			},
			&cli.BoolFlag{
				Name:  "summary",
				Usage: "Print per-kind counts instead of records",
			},
		},
		Action: inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("capture file required", 1)
	}

	f, err := os.Open(c.Args().First())
	if err != nil {
		return cli.Exit(fmt.Sprintf("open capture: %v", err), 1)
	}
	defer iox.DiscardClose(f)

	records, readErr := capture.NewReader(f).ReadAll()

	kindFilter := types.RecordKind(c.String("kind"))
	if c.Bool("summary") {
		counts := make(map[types.RecordKind]int64)
		for _, rec := range records {
			counts[rec.Kind]++
		}
		for _, kind := range []types.RecordKind{
			types.RecordKindLog,
			types.RecordKindWarning,
			types.RecordKindError,
			types.RecordKindUnknown,
		} {
			fmt.Printf("%-8s %d\n", string(kind), counts[kind])
		}
	} else {
		for _, rec := range records {
			if kindFilter != "" && rec.Kind != kindFilter {
				continue
			}
			fmt.Println(render.Record(rec))
		}
	}

	// A truncated tail is reported after the intact prefix is shown.
	if readErr != nil {
		var frameErr *capture.FrameError
		if errors.As(readErr, &frameErr) {
			return cli.Exit(fmt.Sprintf("capture truncated: %v", readErr), 2)
		}
		return cli.Exit(readErr.Error(), 1)
	}
	return nil
}
