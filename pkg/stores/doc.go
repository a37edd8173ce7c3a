// Package stores persists install run history. It provides a SQLite store
// with embedded migrations and a Recorder that writes engine install runs
// and their per-module outcomes to it.
package stores
