package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/offbalance/internal"
	"github.com/starford/offbalance/internal/chart"
	pkgconfig "github.com/starford/offbalance/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	found, err := pkgconfig.LoadOptional(configPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if !found && cmd.IsSet("config") {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg))
}

func render(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	format, err := chart.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	out := os.Stdout
	if path := cmd.String("out"); path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	return internal.Render(ctx, internal.RenderRequest{
		Column: cmd.String("column"),
		Format: format,
		Out:    out,
	}, internal.WithConfig(cfg))
}

func main() {
	cmd := &cli.Command{
		Name:   "offbalance",
		Usage:  "Download the Federal Reserve off-balance-sheet dataset and plot it in the browser",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the web UI (default)",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve dataset tools over MCP stdio",
				Action: serveMCP,
			},
			{
				Name:   "render",
				Usage:  "Download once and write a chart of one column",
				Action: render,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "column",
						Usage: "Column to plot (default: first numeric column)",
					},
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "Output file, - for stdout",
						Value:   "-",
					},
					&cli.StringFlag{
						Name:  "format",
						Usage: "png or svg",
						Value: "png",
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
