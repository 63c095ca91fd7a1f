// Package mysql persists agent records in MySQL. It owns the connection pool
// settings, the embedded schema migrations and the mapping between agent
// records and the agents table.
package mysql
