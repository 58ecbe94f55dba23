// Package database provides connection pool management for PostgreSQL.
//
// Postgres holds the durable transaction log that positions are rebuilt
// from on startup. The service runs without it when configured to.
package database
