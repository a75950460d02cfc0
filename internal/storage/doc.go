// Package storage provides the optional persistence layer used by the bot.
//
// It currently supports:
//   - Audit log appends (operator actions such as blacklist toggles)
//   - Per-origin tag blacklists, so they survive restarts
//
// The dedup cache is deliberately not persisted.
package storage
