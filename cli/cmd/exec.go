package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/gantry/cli/render"
	"github.com/justapithecus/gantry/command"
	"github.com/justapithecus/gantry/session"
)

// ExecCommand returns the exec command.
//
// exec launches a child process, attaches the command channel to its
// standard streams, issues one command, and prints the typed response.
// The child's non-marker output passes through to this process's
// stdout untouched. Engine lifecycle management beyond this glue is
// deliberately not gantry's concern.
func ExecCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Usage:     "Run a child process and issue one command over its stdio",
		ArgsUsage: "-- <command> [args...]",
		Flags: []cli.Flag{
			ConfigFlag(),
			&cli.StringFlag{
				Name:     "action",
				Usage:    "Command action (e.g. screenshot, click)",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "param",
				Usage: "Command parameter as key=value (repeatable)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Response deadline",
				Value: command.DefaultTimeout,
			},
		},
		Action: execAction,
	}
}

func execAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("child command required after --", 1)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	sessCfg, err := buildSessionConfig(cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	sessCfg.Output = func(line string) {
		fmt.Println(line)
	}

	params, err := parseParams(c.StringSlice("param"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	child := exec.CommandContext(ctx, c.Args().First(), c.Args().Tail()...)
	child.Stderr = os.Stderr
	stdin, err := child.StdinPipe()
	if err != nil {
		return cli.Exit(fmt.Sprintf("stdin pipe: %v", err), 1)
	}
	stdout, err := child.StdoutPipe()
	if err != nil {
		return cli.Exit(fmt.Sprintf("stdout pipe: %v", err), 1)
	}
	if err := child.Start(); err != nil {
		return cli.Exit(fmt.Sprintf("start child: %v", err), 1)
	}

	sess := session.New(sessCfg)
	sess.AttachChild(stdin, stdout)

	resp, sendErr := sess.SendCommand(ctx, c.String("action"), params, c.Duration("timeout"))

	// The command is done either way; release the child.
	_ = stdin.Close()
	_ = child.Process.Kill()
	_ = child.Wait()
	_ = sess.Close()

	if sendErr != nil {
		if command.IsTimeout(sendErr) {
			return cli.Exit(sendErr.Error(), 3)
		}
		return cli.Exit(sendErr.Error(), 2)
	}

	fmt.Println(render.Response(resp))
	if resp.IsError() {
		return cli.Exit("", 2)
	}
	return nil
}
