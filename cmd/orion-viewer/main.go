// Command orion-viewer discovers a live video source, captures its frames
// and renders the latest one on a fixed cadence.
//
// Usage:
//
//	orion-viewer [flags] [extra-target ...]
//
// Extra targets are host addresses or CIDR subnets to search in addition
// to the configured catalog (e.g. 192.168.1.20 10.0.0.0/28).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/e7canasta/orion-viewer/internal/config"
)

const version = "v0.1.0"

type options struct {
	configPath string
	debug      bool
	jsonLogs   bool

	// Overrides, applied only when the flag was given.
	provider    *string
	target      *string
	postprocess *string

	extraTargets []string
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options

	fs := flag.NewFlagSet("orion-viewer", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "Path to configuration file (defaults apply when empty)")
	fs.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	fs.BoolVar(&opts.jsonLogs, "json", false, "Log in JSON format")
	provider := fs.String("provider", "", "Source provider: gstreamer, synthetic")
	target := fs.String("target", "", "Source name to capture (empty takes the first found)")
	postprocess := fs.String("postprocess", "", "Postprocess kernel: none, grayscale, gaussian_blur_5x5")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "provider":
			opts.provider = provider
		case "target":
			opts.target = target
		case "postprocess":
			opts.postprocess = postprocess
		}
	})

	for _, arg := range fs.Args() {
		if strings.HasPrefix(arg, "--") {
			continue
		}
		opts.extraTargets = append(opts.extraTargets, arg)
	}
	return opts, nil
}

func loadConfig(opts options) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return nil, err
		}
	}

	if err := opts.applyOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyOverrides lays the command line over a loaded configuration and
// validates the result. It runs again on every config reload.
func (o options) applyOverrides(cfg *config.Config) error {
	if o.provider != nil {
		cfg.Source.Provider = *o.provider
	}
	if o.target != nil {
		cfg.Target = *o.target
	}
	if o.postprocess != nil {
		cfg.Postprocess = *o.postprocess
	}
	cfg.ExtraTargets = append(cfg.ExtraTargets, o.extraTargets...)

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func newLogger(opts options) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.debug {
		logLevel = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}

	if opts.jsonLogs {
		return slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	slog.SetDefault(newLogger(opts))

	cfg, err := loadConfig(opts)
	if err != nil {
		slog.Error("failed to load configuration", "config", opts.configPath, "error", err)
		os.Exit(1)
	}

	slog.Info("starting orion-viewer",
		"version", version,
		"config", opts.configPath,
		"provider", cfg.Source.Provider,
		"target", cfg.Target,
		"extra_targets", cfg.ExtraTargets,
		"postprocess", cfg.Postprocess,
		"debug", opts.debug,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := newApp(cfg, opts.configPath)
	if err != nil {
		slog.Error("failed to create viewer", "error", err)
		os.Exit(1)
	}
	app.overrides = opts.applyOverrides

	if err := app.Run(ctx); err != nil {
		slog.Error("viewer stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("orion-viewer stopped successfully")
}
