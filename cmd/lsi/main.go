package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/lsi/internal/config"
	"github.com/standardbeagle/lsi/internal/debug"
	"github.com/standardbeagle/lsi/internal/search"
)

var Version = "0.1.0"

func main() {
	app := &cli.App{
		Name:                   "lsi",
		Usage:                  "Live in-memory full-text search over a directory tree",
		Version:                Version,
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path (default: <root>/" + config.DefaultConfigFile + ")",
			},
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Directory to index (overrides config)",
			},
			&cli.StringFlag{
				Name:    "mode",
				Aliases: []string{"m"},
				Usage:   "Tokenization mode: word or trigram (overrides config)",
			},
			&cli.BoolFlag{
				Name:  "no-watch",
				Usage: "Index once and do not follow filesystem changes",
			},
			&cli.StringSliceFlag{
				Name:  "exclude",
				Usage: "Additional exclude glob (e.g. --exclude 'vendor/**')",
			},
			&cli.BoolFlag{
				Name:  "trace",
				Usage: "Start with trace logging enabled",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "lsi: %v\n", err)
		os.Exit(1)
	}
}

// loadConfigWithOverrides loads configuration and applies CLI flag overrides.
func loadConfigWithOverrides(c *cli.Context) (*config.Config, error) {
	root := c.String("root")
	if root == "" {
		root = "."
	}

	configPath := c.String("config")
	explicit := configPath != ""
	if !explicit {
		configPath = filepath.Join(root, config.DefaultConfigFile)
	}

	cfg, err := config.Load(configPath, explicit)
	if err != nil {
		return nil, err
	}

	if c.IsSet("root") || cfg.Project.Root == "" {
		cfg.Project.Root = root
	}
	if mode := c.String("mode"); mode != "" {
		cfg.Index.Mode = mode
	}
	if c.Bool("no-watch") {
		cfg.Index.EnableWatcher = false
	}
	cfg.Exclude = append(cfg.Exclude, c.StringSlice("exclude")...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.Project.Root); err != nil {
		return fmt.Errorf("root directory %s: %w", cfg.Project.Root, err)
	}

	if cfg.Logging.File != "" {
		path := debug.InitLogFile(cfg.Logging.File, cfg.Logging.MaxSizeMB)
		defer debug.CloseLogFile()
		log.Printf("trace log: %s", path)
	}
	if c.Bool("trace") {
		debug.SetEnabled(true)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := search.NewSupervisor(cfg, search.Options{
		HandleWatcherError: func(err error) {
			log.Printf("index failed: %v", err)
		},
		HandleInitialFileSyncError: func(err error) {
			log.Printf("initial sync hiccup: %v", err)
		},
	})
	supDone := make(chan error, 1)
	go func() { supDone <- sup.Run(ctx) }()

	sh := newShell(search.NewEngine(sup), sup, os.Stdout)
	sh.run(ctx, os.Stdin)

	stop()
	<-supDone
	return nil
}
