package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/starford/marcom/internal"
	"github.com/starford/marcom/internal/catalog"
	"github.com/starford/marcom/internal/mcpserver"
	"github.com/starford/marcom/internal/prompt"
	"github.com/starford/marcom/internal/tabular"
)

// withApp loads the config, wires the catalog and runs fn against it.
func withApp(ctx context.Context, cmd *cli.Command, tune func(*internal.Config), fn func(*internal.App) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if tune != nil {
		tune(cfg)
	}
	a, err := internal.Bootstrap(ctx, cfg, internal.NewLogger(cfg.App.LogLevel))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printErrors(errs []error) {
	for _, ie := range catalog.ItemErrors(errs) {
		fmt.Fprintf(os.Stderr, "  failed: %s\n", ie.Error())
	}
}

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Ingest components listed in a CSV table",
		ArgsUsage: "<table.csv>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "link", Usage: "Link each component to registered tags after ingest"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return errors.New("ingest: a CSV table is required")
			}
			rows, err := tabular.ReadIngestFile(path)
			if err != nil {
				return err
			}
			tune := func(cfg *internal.Config) {
				if cmd.Bool("link") {
					cfg.Catalog.LinkOnIngest = true
				}
			}
			return withApp(ctx, cmd, tune, func(a *internal.App) error {
				rep, err := a.Catalog.IngestAll(ctx, rows)
				if err != nil {
					return err
				}
				fmt.Printf("run %s: %d ingested, %d failed\n", rep.RunID, len(rep.Components), rep.Failed())
				for _, it := range rep.Items {
					c := it.Component
					line := fmt.Sprintf("  row %d  %s  %s (%d bytes)", it.Row+1, c.Key, c.Name, c.Size)
					if s := it.Link; s != nil {
						line += fmt.Sprintf(", %d tags linked, %d skipped", s.Created, s.Skipped)
					}
					fmt.Println(line)
				}
				printErrors(rep.Errors)
				return nil
			})
		},
	}
}

func seedTagsCommand() *cli.Command {
	return &cli.Command{
		Name:      "seed-tags",
		Usage:     "Register the tags listed in a CSV table",
		ArgsUsage: "<tags.csv>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return errors.New("seed-tags: a CSV table is required")
			}
			seeds, err := tabular.ReadTagSeedFile(path)
			if err != nil {
				return err
			}
			return withApp(ctx, cmd, nil, func(a *internal.App) error {
				rep, err := a.Catalog.SeedTags(ctx, seeds)
				if err != nil {
					return err
				}
				fmt.Printf("run %s: %d created, %d already registered, %d failed\n",
					rep.RunID, len(rep.Created), len(rep.Existing), len(rep.Errors))
				printErrors(rep.Errors)
				return nil
			})
		},
	}
}

func linkCommand() *cli.Command {
	return &cli.Command{
		Name:      "link",
		Usage:     "Relate components to the registered tags found in their content",
		ArgsUsage: "[key...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "all", Usage: "Link every stored component"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			keys := cmd.Args().Slice()
			all := cmd.Bool("all")
			if all == (len(keys) > 0) {
				return errors.New("link: give either --all or one or more component keys")
			}
			return withApp(ctx, cmd, nil, func(a *internal.App) error {
				var (
					rep *catalog.LinkReport
					err error
				)
				if all {
					rep, err = a.Catalog.LinkAll(ctx)
				} else {
					rep, err = a.Catalog.LinkKeys(ctx, keys)
				}
				if err != nil {
					return err
				}
				fmt.Printf("run %s: %d linked, %d failed\n", rep.RunID, len(rep.Items), len(rep.Errors))
				for _, it := range rep.Items {
					fmt.Printf("  %s  %s: %d created, %d already linked, %d skipped\n",
						it.Key, it.Name, it.Summary.Created, it.Summary.AlreadyLinked, it.Summary.Skipped)
				}
				printErrors(rep.Errors)
				return nil
			})
		},
	}
}

func queryCommand() *cli.Command {
	return &cli.Command{
		Name:  "query",
		Usage: "Build property and tag filters interactively and print matching components",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "unique", Usage: "Print each component once"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, nil, func(a *internal.App) error {
				return prompt.New(a.Catalog, os.Stdin, os.Stdout, cmd.Bool("unique")).Run(ctx)
			})
		},
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the catalog as MCP tools over stdio",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, nil, func(a *internal.App) error {
				return mcpserver.New(a.Catalog, version).ServeStdio()
			})
		},
	}
}
