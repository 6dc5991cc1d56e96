// Command engram-export streams the memory engine's JSONL export/import
// format (spec §4.10) to/from a file or stdio.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kiro-dev/kiro-memory/internal/config"
	"github.com/kiro-dev/kiro-memory/internal/porter"
	"github.com/kiro-dev/kiro-memory/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(config.DefaultDataDir())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := config.EnsureDirs(cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to prepare data directories")
	}

	s, err := store.Open(store.Config{Path: cfg.DBPath, MaxConns: cfg.MaxConns})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer s.Close()

	p := porter.New(s)
	ctx := context.Background()

	switch os.Args[1] {
	case "export":
		fs := flag.NewFlagSet("export", flag.ExitOnError)
		project := fs.String("project", "", "restrict export to a single project")
		outPath := fs.String("out", "", "output file path (default: stdout)")
		fs.Parse(os.Args[2:])

		out := os.Stdout
		if *outPath != "" {
			f, err := os.Create(*outPath)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to create output file")
			}
			defer f.Close()
			out = f
		}

		if err := p.Export(ctx, out, porter.ExportFilters{Project: *project}); err != nil {
			log.Fatal().Err(err).Msg("export failed")
		}
	case "import":
		fs := flag.NewFlagSet("import", flag.ExitOnError)
		inPath := fs.String("in", "", "input file path (default: stdin)")
		dryRun := fs.Bool("dry-run", false, "count what would be imported without writing")
		fs.Parse(os.Args[2:])

		in := os.Stdin
		if *inPath != "" {
			f, err := os.Open(*inPath)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to open input file")
			}
			defer f.Close()
			in = f
		}

		result, err := p.Import(ctx, in, *dryRun)
		if err != nil {
			log.Fatal().Err(err).Msg("import failed")
		}
		fmt.Printf("imported=%d skipped=%d errors=%d total=%d\n", result.Imported, result.Skipped, result.Errors, result.Total)
		for _, e := range result.ErrorDetails {
			fmt.Printf("  line %d: %s (%s)\n", e.Line, e.Message, e.Excerpt)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: engram-export <export|import> [args]")
}
