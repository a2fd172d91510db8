// Package migrations embeds the goose SQL migrations for both databases:
// "local" for the on-device snapshot store and "remote" for the self-hosted
// remote store service.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

const (
	Local  = "local"
	Remote = "remote"
)

//go:embed local/*.sql remote/*.sql
var FS embed.FS

// goose keeps its configuration in package globals.
var mu sync.Mutex

// Up applies all pending migrations in dir to db.
func Up(db *sql.DB, dir string) error {
	mu.Lock()
	defer mu.Unlock()

	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(FS)

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("run %s migrations: %w", dir, err)
	}
	return nil
}
