// Package cmd implements the gantry CLI commands.
package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/gantry/adapter"
	redisadapter "github.com/justapithecus/gantry/adapter/redis"
	"github.com/justapithecus/gantry/adapter/webhook"
	"github.com/justapithecus/gantry/cli/config"
	"github.com/justapithecus/gantry/frame"
	"github.com/justapithecus/gantry/session"
)

// DefaultConfigPath is consulted when --config is not given.
const DefaultConfigPath = "gantry.yaml"

// ConfigFlag is shared by commands that read gantry.yaml.
func ConfigFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "config",
		Usage: "Path to gantry.yaml config file",
	}
}

// loadConfig reads the config file named by --config, or the default
// path when it exists. A missing default file yields an empty config,
// not an error; an explicit --config path must exist.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat(DefaultConfigPath); err == nil {
		return config.Load(DefaultConfigPath)
	}
	return &config.Config{}, nil
}

// buildSessionConfig maps file config onto session configuration.
func buildSessionConfig(cfg *config.Config) (session.Config, error) {
	ad, err := buildAdapter(cfg.Adapter)
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		OutputCapacity: cfg.Output.Capacity,
		Decoder: frame.Config{
			MaxFrameSize: cfg.Decoder.MaxFrameBytes,
			ScanWindow:   cfg.Decoder.ScanWindow,
			MaxRetained:  cfg.Decoder.MaxRetained,
			TailKeep:     cfg.Decoder.TailKeep,
		},
		DialTimeout:    cfg.Debug.DialTimeout.Duration,
		CommandTimeout: cfg.Command.Timeout.Duration,
		Adapter:        ad,
	}, nil
}

// buildAdapter constructs the configured fanout adapter, nil when none.
func buildAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	retries := -1
	if cfg.Retries != nil {
		retries = *cfg.Retries
	}

	switch cfg.Type {
	case "":
		return nil, nil
	case "webhook":
		wcfg := webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
		}
		if retries >= 0 {
			wcfg.Retries = retries
		} else {
			wcfg.Retries = webhook.DefaultRetries
		}
		return webhook.New(wcfg)
	case "redis":
		rcfg := redisadapter.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
		}
		if retries >= 0 {
			rcfg.Retries = retries
		} else {
			rcfg.Retries = redisadapter.DefaultRetries
		}
		return redisadapter.New(rcfg)
	default:
		return nil, fmt.Errorf("unknown adapter type %q (want webhook or redis)", cfg.Type)
	}
}

// parseParams converts repeated key=value flags into command
// parameters, inferring int and bool values.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid param %q (want key=value)", pair)
		}
		if n, err := strconv.Atoi(v); err == nil {
			params[k] = n
			continue
		}
		if b, err := strconv.ParseBool(v); err == nil {
			params[k] = b
			continue
		}
		params[k] = v
	}
	return params, nil
}
