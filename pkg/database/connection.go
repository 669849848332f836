package database

import (
	"database/sql"
	"fmt"
	"strings"

	mysql "github.com/go-sql-driver/mysql"
)

type Connection struct {
	User string
	Pass string
	Host string
	Port int
}

// IsSocket reports whether Host names a unix socket rather than a TCP host.
func (c Connection) IsSocket() bool {
	return strings.HasPrefix(c.Host, "/")
}

// DSN returns the go-sql-driver data source name for the connection.
func (c Connection) DSN() string {
	config := mysql.NewConfig()
	config.User = c.User
	config.Passwd = c.Pass
	if c.IsSocket() {
		config.Net = "unix"
		config.Addr = c.Host
	} else {
		config.Net = "tcp"
		config.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	}
	config.ParseTime = true
	return config.FormatDSN()
}

// Open opens a connection pool to the server.
func (c Connection) Open() (*sql.DB, error) {
	db, err := sql.Open("mysql", c.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open connection to database: %w", err)
	}
	return db, nil
}
