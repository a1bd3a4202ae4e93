// Package storage persists the run journal: one record per finished action
// execution, kept in a JSON Lines file or a SQLite database.
package storage
