package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/forgeguard/forgeguard/config"
	"github.com/forgeguard/forgeguard/util"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "forgeguard",
		Usage:   "account moderation daemon for Forgejo instances",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to the TOML configuration file",
			Value:   config.DefaultConfigPath,
			EnvVars: []string{config.ConfigPathEnv},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"FORGEGUARD_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log output format: text or json",
			EnvVars: []string{"FORGEGUARD_LOG_FORMAT"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		checkConfigCmd,
	}

	return app.Run(args)
}

func configLogger(cctx *cli.Context) (*slog.Logger, error) {
	return util.SetupSlog(util.LogOptions{
		Level:  cctx.String("log-level"),
		Format: cctx.String("log-format"),
	})
}

// loadConfig reads the config file and logs its warnings.
func loadConfig(cctx *cli.Context, logger *slog.Logger) (*config.Config, error) {
	path := cctx.String("config")
	cfg, warnings, err := config.Load(path)
	for _, w := range warnings {
		logger.Warn(w, "config", path)
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the moderation daemon",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs (empty to disable)",
			Value:   ":3998",
			EnvVars: []string{"FORGEGUARD_METRICS_LISTEN"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger, err := configLogger(cctx)
		if err != nil {
			return err
		}
		logger.Info("starting forgeguard", "version", versioninfo.Short())

		cfg, err := loadConfig(cctx, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		shutdownOTEL, err := configOTEL(ctx, "forgeguard")
		if err != nil {
			return err
		}
		defer shutdownOTEL()

		srv, err := NewServer(cfg, logger)
		if err != nil {
			return err
		}
		defer srv.Close()

		if listen := cctx.String("metrics-listen"); listen != "" {
			go func() {
				if err := srv.RunMetrics(listen); err != nil {
					slog.Error("failed to start metrics endpoint", "err", err)
					panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
				}
			}()
		}

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("failed to run moderation service: %w", err)
		}
		logger.Info("forgeguard stopped")
		return nil
	},
}

var checkConfigCmd = &cli.Command{
	Name:  "check-config",
	Usage: "validate the configuration file and print a summary",
	Action: func(cctx *cli.Context) error {
		logger, err := configLogger(cctx)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cctx, logger)
		if err != nil {
			return err
		}
		fmt.Fprint(cctx.App.Writer, summary(cfg))
		return nil
	},
}
