// embedctl resolves and renders link embeds from the command line and manages
// the shared embed cache. Configuration comes from the same EMBED_* environment
// variables as the server.
package main

import (
	"context"
	"log"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "embedctl",
		Usage: "Resolve link embeds and manage the embed cache",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "backend",
				Usage:   "Cache backend override (memory, postgres, redis)",
				Sources: cli.EnvVars("EMBED_CACHE_BACKEND"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "PostgreSQL connection string for the postgres backend",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the redis backend",
				Sources: cli.EnvVars("REDIS_URL"),
			},
		},
		Commands: []*cli.Command{
			resolveCommand(),
			renderCommand(),
			previewCommand(),
			statsCommand(),
			clearCommand(),
		},
	}
}
