package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"golang.org/x/term"

	"github.com/user-none/reshadeck/cli"
	"github.com/user-none/reshadeck/storage"
)

func main() {
	settingsPath := flag.String("settings", "", "path to settings file (default: XDG config dir)")
	socket := flag.String("socket", "", "control socket path (overrides settings)")
	logLevel := flag.String("log-level", "", "log level: trace, debug, info, warn, error")
	jsonOut := flag.Bool("json", false, "print JSON even on a terminal")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: reshadeck [flags] serve|COMMAND [args]\n\n%s\n\nflags:\n", cli.Usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "reshadeck",
		Level: hclog.LevelFromString(*logLevel),
		Color: hclog.AutoColor,
	})

	if *settingsPath == "" {
		p, err := storage.GetSettingsPath()
		if err != nil {
			logger.Error("failed to locate settings", "error", err)
			os.Exit(1)
		}
		*settingsPath = p
	}
	settings, err := storage.LoadSettings(afero.NewOsFs(), *settingsPath, logger.Named("settings"))
	if err != nil {
		logger.Error("failed to load settings", "error", err)
		os.Exit(1)
	}
	if *socket != "" {
		settings.Socket = *socket
	}
	if *logLevel == "" {
		logger.SetLevel(hclog.LevelFromString(settings.LogLevel))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flag.Arg(0) == "serve" {
		if err := serve(ctx, settings, logger); err != nil {
			logger.Error("daemon failed", "error", err)
			os.Exit(1)
		}
		return
	}

	pretty := !*jsonOut && term.IsTerminal(int(os.Stdout.Fd()))
	runner := cli.NewRunner(cli.NewClient(settings.Socket), os.Stdout, pretty)
	if err := runner.Run(ctx, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, cli.ErrUsage) {
			fmt.Fprintln(os.Stderr, cli.Usage)
			os.Exit(2)
		}
		os.Exit(1)
	}
}
