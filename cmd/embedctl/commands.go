package main

import (
	"VivalaTable/internal/core/embeds"
	"VivalaTable/internal/db"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"
)

var errMissingArgument = errors.New("missing argument")

// session is an opened pipeline for one command invocation
type session struct {
	service  embeds.Service
	renderer *embeds.Renderer
	backend  *db.Backend
	out      io.Writer
}

func openSession(ctx context.Context, c *cli.Command) (*session, error) {
	cfg := embeds.ConfigFromEnv()
	if backend := c.String("backend"); backend != "" {
		cfg.CacheBackend = backend
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	backend, err := db.OpenBackend(ctx, cfg, db.Options{
		DatabaseURL: c.String("database-url"),
		RedisURL:    c.String("redis-url"),
	})
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	return &session{
		service:  embeds.NewServiceFromConfig(cfg, backend.Cache, nil),
		renderer: embeds.NewRenderer(),
		backend:  backend,
		out:      c.Root().Writer,
	}, nil
}

func (s *session) close() {
	if err := s.backend.Close(); err != nil {
		fmt.Fprintf(s.out, "Warning: failed to close cache: %v\n", err)
	}
}

func (s *session) writeJSON(v any) error {
	enc := json.NewEncoder(s.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withSession opens a session around fn
func withSession(fn func(ctx context.Context, s *session, c *cli.Command) error) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		s, err := openSession(ctx, c)
		if err != nil {
			return err
		}
		defer s.close()
		return fn(ctx, s, c)
	}
}

func resolveCommand() *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Usage:     "Resolve a URL and print the normalized embed as JSON",
		ArgsUsage: "<url>",
		Action: withSession(func(ctx context.Context, s *session, c *cli.Command) error {
			url := c.Args().First()
			if url == "" {
				return fmt.Errorf("%w: url", errMissingArgument)
			}
			embed := s.service.Resolve(ctx, url)
			if embed == nil {
				fmt.Fprintln(s.out, "null")
				return nil
			}
			return s.writeJSON(embed)
		}),
	}
}

func renderCommand() *cli.Command {
	return &cli.Command{
		Name:      "render",
		Usage:     "Resolve a URL and print the rendered HTML fragment",
		ArgsUsage: "<url>",
		Action: withSession(func(ctx context.Context, s *session, c *cli.Command) error {
			url := c.Args().First()
			if url == "" {
				return fmt.Errorf("%w: url", errMissingArgument)
			}
			if html := s.renderer.Render(s.service.Resolve(ctx, url)); html != "" {
				fmt.Fprintln(s.out, html)
			}
			return nil
		}),
	}
}

func previewCommand() *cli.Command {
	return &cli.Command{
		Name:      "preview",
		Usage:     "Find URLs in text and print the embeds they produce",
		ArgsUsage: "<text>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "max",
				Usage: "Maximum number of embeds",
				Value: 1,
			},
		},
		Action: withSession(func(ctx context.Context, s *session, c *cli.Command) error {
			if c.Args().Len() == 0 {
				return fmt.Errorf("%w: text", errMissingArgument)
			}
			text := c.Args().First()
			for _, arg := range c.Args().Tail() {
				text += " " + arg
			}

			for _, embed := range s.service.ProcessTextEmbeds(ctx, text, c.Int("max")) {
				fmt.Fprintf(s.out, "%s\n%s\n\n", embed.SourceURL, s.renderer.Render(embed))
			}
			return nil
		}),
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show embed cache statistics",
		Action: withSession(func(ctx context.Context, s *session, c *cli.Command) error {
			stats, err := s.service.GetStats(ctx)
			if err != nil {
				return fmt.Errorf("getting stats: %w", err)
			}
			fmt.Fprintf(s.out, "Total cached: %d\nActive:       %d\nExpired:      %d\n",
				stats.TotalCached, stats.Active, stats.Expired)
			return nil
		}),
	}
}

func clearCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Clear the embed cache, or a single URL with --url",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "Only clear the entry for this URL",
			},
		},
		Action: withSession(func(ctx context.Context, s *session, c *cli.Command) error {
			if url := c.String("url"); url != "" {
				if err := s.service.ClearCache(ctx, url); err != nil {
					return err
				}
				fmt.Fprintf(s.out, "Cleared %s\n", url)
				return nil
			}
			if err := s.service.ClearAllCaches(ctx); err != nil {
				return err
			}
			fmt.Fprintln(s.out, "Cleared all cached embeds")
			return nil
		}),
	}
}
