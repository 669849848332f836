package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/databacker/mysql-s3-backup/pkg/database"
)

// AllDatabases selects every user database on the server.
const AllDatabases = "ALL"

// ErrNoTargets means the database specifier resolved to nothing.
var ErrNoTargets = errors.New("no databases to back up")

// ResolveTargets turns a database specifier into the ordered list of databases
// to back up. The wildcard asks lister and never yields the server's own
// schemas; anything else is a whitespace separated list whose order is kept.
func ResolveTargets(ctx context.Context, selector string, lister SchemaLister) ([]string, error) {
	var units []string
	if strings.TrimSpace(selector) == AllDatabases {
		if lister == nil {
			return nil, errors.New("no way to list databases on the server")
		}
		names, err := lister(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list databases: %w", err)
		}
		for _, name := range names {
			if !database.IsSystemSchema(name) {
				units = append(units, name)
			}
		}
	} else {
		units = strings.Fields(selector)
	}
	if len(units) == 0 {
		return nil, ErrNoTargets
	}
	return units, nil
}
