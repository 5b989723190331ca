package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"clientdesk.org/internal/migrate"
	"clientdesk.org/internal/obs"
)

func main() {
	var (
		dsn     = flag.String("dsn", os.Getenv("CLIENTDESK_PG_DSN"), "PostgreSQL DSN")
		timeout = flag.Duration("timeout", 30*time.Second, "overall timeout")
	)
	flag.Parse()

	log := obs.Logger()
	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or CLIENTDESK_PG_DSN")
	}
	if flag.NArg() == 0 {
		log.Fatal("usage: migrate [up|down|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.WithError(err).Fatal("open db")
	}
	defer db.Close()

	mgr := migrate.NewManager(db, nil)

	switch cmd := flag.Arg(0); cmd {
	case "up":
		var ran []string
		ran, err = mgr.Up(ctx)
		log.WithField("applied", len(ran)).Info("migrations up")
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil {
			log.WithField("migration", name).Info("migrations down")
		}
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		for _, item := range history {
			fmt.Println(item)
		}
	default:
		log.Fatalf("unknown command %q", cmd)
	}
	if err != nil {
		log.WithError(err).Fatalf("migrate %s", flag.Arg(0))
	}
}
