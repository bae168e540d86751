package postgres

import (
	"database/sql"
	"testing"

	"github.com/asakaida/rowguard/internal/infrastructure/config"
	"github.com/asakaida/rowguard/internal/infrastructure/database"
)

// openTestDB connects to the database configured in .env.test, migrates it
// and empties the rule tables when the test ends. Tests are skipped when no
// test database is configured or reachable.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	if err := config.InitConfig("test"); err != nil {
		t.Fatalf("failed to init config: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		t.Skipf("no test database configured: %v", err)
	}

	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		t.Skipf("test database unreachable: %v", err)
	}
	if err := pg.RunMigrations(); err != nil {
		pg.Close()
		t.Fatalf("failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		if _, err := pg.DB.Exec("TRUNCATE group_members, macros, permissions, collection_rules"); err != nil {
			t.Logf("failed to truncate rule tables: %v", err)
		}
		pg.Close()
	})
	return pg.DB
}
