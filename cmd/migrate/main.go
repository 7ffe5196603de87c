package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"salonora.app/internal/migrate"
)

func main() {
	log.SetFlags(0)
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	var (
		dsn            = flag.String("dsn", os.Getenv("SALONORA_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "ops/migrations/sql", "Path to SQL migrations")
		seedsPath      = flag.String("seeds", "ops/migrations/seeds", "Path to SQL seeds")
		timeout        = flag.Duration("timeout", 30*time.Second, "Overall deadline")
	)
	flag.Parse()

	if *dsn == "" {
		return errors.New("missing DSN: provide via -dsn or SALONORA_PG_DSN")
	}
	cmd := flag.Arg(0)
	if cmd == "" {
		return errors.New("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, *migrationsPath, *seedsPath)

	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var applied []string
		if applied, err = mgr.Status(ctx); err == nil {
			if len(applied) == 0 {
				fmt.Println("no migrations applied")
			}
			for _, name := range applied {
				fmt.Println(name)
			}
		}
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %v", cmd, err)
	}
	return nil
}
