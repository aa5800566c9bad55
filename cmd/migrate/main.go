// Applies the SQL migrations with goose over the pgx stdlib driver.
//
//	migrate up|down|status [dir]
package main

import (
	"database/sql"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose"

	"github.com/you/docpipe/internal/config"
)

func main() {
	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	dir := "internal/storage/migrations"
	if len(os.Args) > 2 {
		dir = os.Args[2]
	}

	cfg := config.Load()
	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatal(err)
	}
	if err := goose.Run(cmd, db, dir); err != nil {
		log.Fatal(err)
	}
}
