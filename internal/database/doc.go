// Package database provides the PostgreSQL connection pool used by the
// execution journal.
package database
