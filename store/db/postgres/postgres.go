package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	// Import the postgres driver.
	_ "github.com/lib/pq"

	"github.com/kbforge/ragengine/internal/profile"
	"github.com/kbforge/ragengine/store"
)

//go:embed migration/schema.sql
var schemaSQL string

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a database specified by its database driver name and a
// driver-specific data source name, usually consisting of at least a
// database name and connection information.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	driver := DB{db: db, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

// Migrate applies the schema. The embedded DDL is idempotent; the vector
// column dimension is bound to the deployment's embedding dimensionality.
func (d *DB) Migrate(ctx context.Context) error {
	stmt := strings.ReplaceAll(schemaSQL, "{{EMBEDDING_DIM}}", strconv.Itoa(d.profile.EmbeddingDimensions))
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}
	return nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// placeholder returns the i-th postgres parameter placeholder ($1, $2, ...).
func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

// placeholders returns a comma-joined list of the first n placeholders.
func placeholders(n int) string {
	list := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		list = append(list, placeholder(i))
	}
	return strings.Join(list, ", ")
}
