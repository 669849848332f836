package database

import (
	"context"
	"database/sql"
	"fmt"
)

var (
	excludeSchemaList = []string{"information_schema", "performance_schema", "sys", "mysql"}
	excludeSchemas    = map[string]bool{}
)

func init() {
	for _, schema := range excludeSchemaList {
		excludeSchemas[schema] = true
	}
}

// IsSystemSchema reports whether name is one of the server's own schemas,
// which are never selected by a wildcard backup.
func IsSystemSchema(name string) bool {
	return excludeSchemas[name]
}

// GetSchemas lists the user databases on the server, in server order.
func GetSchemas(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, fmt.Errorf("could not get schemas: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("error getting database name: %w", err)
		}
		if IsSystemSchema(name) {
			continue
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading database names: %w", err)
	}
	return names, nil
}
