package db_test

import (
	"testing"

	"github.com/notifyhub/repo-trigger/internal/db"
)

func TestMigrationURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"postgres://u:p@localhost:5432/triggers", "pgx5://u:p@localhost:5432/triggers"},
		{"postgresql://u:p@localhost/triggers?sslmode=disable", "pgx5://u:p@localhost/triggers?sslmode=disable"},
		{"pgx5://localhost/triggers", "pgx5://localhost/triggers"},
	}
	for _, c := range cases {
		if got := db.MigrationURL(c.in); got != c.want {
			t.Errorf("MigrationURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
