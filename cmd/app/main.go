package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/leetlab/internal"
	pkgconfig "github.com/starford/leetlab/pkg/config"
)

var version = "dev"

func loadOptions(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadWithDefaults(configPath, "", cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	if err := internal.RunMCP(ctx, opts...); err != nil {
		return fmt.Errorf("mcp server error: %w", err)
	}
	return nil
}

func list(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.PrintCatalog(ctx, os.Stdout, cmd.String("query"), cmd.String("tag"), opts...)
}

func main() {
	configFlag := &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("APP_CONFIG_FILE"),
	}

	cmd := &cli.Command{
		Name:    "leetlab",
		Usage:   "Browse and run small interactive algorithm demos",
		Version: version,
		Action:  serve,
		Flags:   []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the HTTP server and web shell",
				Flags:  []cli.Flag{configFlag},
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the demo catalog over MCP stdio",
				Flags:  []cli.Flag{configFlag},
				Action: mcp,
			},
			{
				Name:  "list",
				Usage: "Print the demo catalog",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "Case-insensitive title/id/tag filter"},
					&cli.StringFlag{Name: "tag", Aliases: []string{"t"}, Usage: "Exact tag filter", Value: "all"},
				},
				Action: list,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
