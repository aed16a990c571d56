// Package mysql provides repositories and data access helpers backed by MySQL.
// It encapsulates schema migrations, transactional helpers, and strongly typed
// queries for persisting run archives, user feedback, and the training rows
// derived from them. A file-backed in-memory variant covers local development.
package mysql
