package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/gantry/capture"
	"github.com/justapithecus/gantry/cli/render"
	"github.com/justapithecus/gantry/cli/tui"
	"github.com/justapithecus/gantry/debugger"
	"github.com/justapithecus/gantry/iox"
	"github.com/justapithecus/gantry/session"
	"github.com/justapithecus/gantry/types"
)

// pollInterval is the attach loop's aggregator poll period.
const pollInterval = 100 * time.Millisecond

// AttachCommand returns the attach command.
func AttachCommand() *cli.Command {
	return &cli.Command{
		Name:  "attach",
		Usage: "Attach to an engine debug port and stream decoded records",
		Flags: []cli.Flag{
			ConfigFlag(),
			&cli.StringFlag{
				Name:  "host",
				Usage: "Debug port host",
				Value: "127.0.0.1",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Debug port (6006 script debugger, 6007 editor sync)",
				Value: debugger.DefaultPort,
			},
			&cli.StringFlag{
				Name:  "capture",
				Usage: "Write decoded records to a capture file",
			},
			&cli.BoolFlag{
				Name:  "tui",
				Usage: "Interactive scrollback view instead of line output",
			},
			&cli.BoolFlag{
				Name:  "stats",
				Usage: "Print session metrics on exit",
			},
		},
		Action: attachAction,
	}
}

func attachAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	sessCfg, err := buildSessionConfig(cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	// Flags override config; config overrides flag defaults.
	host := cfg.Debug.Host
	if host == "" || c.IsSet("host") {
		host = c.String("host")
	}
	port := cfg.Debug.Port
	if port == 0 || c.IsSet("port") {
		port = c.Int("port")
	}

	var capWriter *capture.Writer
	if path := c.String("capture"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("create capture file: %v", err), 1)
		}
		defer iox.DiscardClose(f)
		capWriter = capture.NewWriter(f)
	}

	sess := session.New(sessCfg)
	defer iox.DiscardErr(sess.Close)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sess.ConnectDebugger(ctx, host, port); err != nil {
		return cli.Exit(err.Error(), 2)
	}

	if c.Bool("tui") {
		err = tailTUI(ctx, sess, fmt.Sprintf("%s:%d", host, port), capWriter)
	} else {
		err = tailLines(ctx, sess, capWriter)
	}
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if c.Bool("stats") {
		fmt.Fprint(os.Stderr, render.Stats(sess.Metrics()))
	}
	return nil
}

// tailLines polls the aggregator and prints one line per record until
// the stream ends or the context is canceled.
func tailLines(ctx context.Context, sess *session.Session, capWriter *capture.Writer) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var cursor int64
	for {
		for _, rec := range sess.DebugOutput(cursor) {
			cursor = rec.Seq
			if capWriter != nil {
				if err := capWriter.WriteRecord(rec); err != nil {
					return fmt.Errorf("capture write: %w", err)
				}
			}
			fmt.Println(render.Record(rec))
			if rec.IsConnectionEnded() {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// tailTUI bridges the poll loop into a record channel for the TUI.
func tailTUI(ctx context.Context, sess *session.Session, endpoint string, capWriter *capture.Writer) error {
	records := make(chan types.Record, 256)

	go func() {
		defer close(records)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		var cursor int64
		for {
			for _, rec := range sess.DebugOutput(cursor) {
				cursor = rec.Seq
				if capWriter != nil {
					_ = capWriter.WriteRecord(rec)
				}
				select {
				case records <- rec:
				case <-ctx.Done():
					return
				}
				if rec.IsConnectionEnded() {
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return tui.RunTail(endpoint, records)
}
