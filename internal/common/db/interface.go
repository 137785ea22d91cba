// Package db is a thin connection-pooled wrapper over database/sql.
package db

import (
	"context"
	"database/sql"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Querier abstracts database operations for both database and transaction.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
}

// Database is a pooled connection to one SQL database.
type Database interface {
	Querier

	// Transaction runs fn inside a transaction, rolling back when fn fails
	Transaction(ctx context.Context, fn func(tx Querier) error) error

	// Driver returns the database/sql driver name
	Driver() string

	Ping(ctx context.Context) error
	Close() error
}

// Rows is the iterator returned by Query.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Row is the result of QueryRow.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result summarizes an executed statement.
type Result = sql.Result
