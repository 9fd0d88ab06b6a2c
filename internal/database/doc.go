// Package database opens the PostgreSQL pool used by the bid journal and
// creates the journal table when it is missing.
package database
