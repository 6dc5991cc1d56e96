// Command engram-backup creates, lists, restores, and rotates snapshots of
// the memory engine's database file (spec §4.11).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kiro-dev/kiro-memory/internal/backup"
	"github.com/kiro-dev/kiro-memory/internal/config"
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

	svc := backup.New(s, cfg.DBPath, cfg.BackupDir)
	ctx := context.Background()

	switch os.Args[1] {
	case "create":
		entry, err := svc.Create(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("backup create failed")
		}
		fmt.Println(entry.Path)
	case "list":
		entries, err := svc.List()
		if err != nil {
			log.Fatal().Err(err).Msg("backup list failed")
		}
		for _, e := range entries {
			fmt.Printf("%s\t%s\t%d observations\n", e.Path, e.Meta.Timestamp, e.Meta.Stats.Observations)
		}
	case "restore":
		fs := flag.NewFlagSet("restore", flag.ExitOnError)
		fs.Parse(os.Args[2:])
		if fs.NArg() < 1 {
			log.Fatal().Msg("usage: engram-backup restore <backup-file>")
		}
		if err := svc.Restore(fs.Arg(0), cfg.DBPath); err != nil {
			log.Fatal().Err(err).Msg("backup restore failed")
		}
		fmt.Println("restored", cfg.DBPath)
	case "rotate":
		fs := flag.NewFlagSet("rotate", flag.ExitOnError)
		maxKeep := fs.Int("keep", 0, "number of most recent backups to keep (default: policy.yaml, falling back to built-in default)")
		fs.Parse(os.Args[2:])

		keep := *maxKeep
		if keep <= 0 {
			if policy := backup.LoadPolicy(cfg.BackupDir); policy.MaxKeep > 0 {
				keep = policy.MaxKeep
			} else {
				keep = config.DefaultBackupMaxKeep
			}
		}

		removed, err := svc.Rotate(keep)
		if err != nil {
			log.Fatal().Err(err).Msg("backup rotate failed")
		}
		fmt.Printf("removed %d backups\n", removed)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: engram-backup <create|list|restore|rotate> [args]")
}
