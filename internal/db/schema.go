package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// requiredColumns lists what the store package reads and writes, by table.
var requiredColumns = map[string][]string{
	"users":               {"id", "username", "email", "password_hash", "created_at"},
	"chat_messages":       {"id", "user_id", "session_id", "role", "content", "created_at"},
	"chat_configurations": {"role", "content"},
}

// ValidateSchema fails fast when AUTO_MIGRATE is off and the database was
// never migrated, or a migration was left dirty.
func ValidateSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errors.New("database pool is nil")
	}

	if err := checkMigrationState(ctx, pool); err != nil {
		return err
	}

	tables := make([]string, 0, len(requiredColumns))
	for table := range requiredColumns {
		tables = append(tables, table)
	}
	present, err := existingColumns(ctx, pool, tables)
	if err != nil {
		return fmt.Errorf("failed checking schema: %w", err)
	}

	var missing []string
	for table, columns := range requiredColumns {
		for _, column := range columns {
			if _, ok := present[table+"."+column]; !ok {
				missing = append(missing, table+"."+column)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf(
			"required columns missing: %s; set AUTO_MIGRATE=true or apply internal/db/migrations",
			strings.Join(missing, ", "),
		)
	}
	return nil
}

func existingColumns(ctx context.Context, pool *pgxpool.Pool, tables []string) (map[string]struct{}, error) {
	rows, err := pool.Query(ctx,
		`SELECT table_name, column_name
		   FROM information_schema.columns
		  WHERE table_schema = current_schema()
		    AND table_name = ANY($1)`,
		tables,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	present := make(map[string]struct{})
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, err
		}
		present[strings.ToLower(table)+"."+strings.ToLower(column)] = struct{}{}
	}
	return present, rows.Err()
}

// checkMigrationState reads golang-migrate's bookkeeping table. A database
// without it is left to the column check.
func checkMigrationState(ctx context.Context, pool *pgxpool.Pool) error {
	var version int64
	var dirty bool
	err := pool.QueryRow(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		var missingTable interface{ SQLState() string }
		if errors.As(err, &missingTable) && missingTable.SQLState() == "42P01" {
			return nil
		}
		return fmt.Errorf("failed reading migration state: %w", err)
	}
	if dirty {
		return fmt.Errorf("migration %d is dirty; fix it and force the version before starting", version)
	}
	return nil
}
