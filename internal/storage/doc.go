// Package storage provides the persisted key space used for session and
// course-selection state.
//
// Three implementations are available:
//   - Memory: in-process map, used by tests and ephemeral runs
//   - File: a single JSON document replaced atomically on every write
//   - Redis: one hash on a Redis server, for sessions shared between hosts
//
// Example Usage:
//
//	store, err := storage.NewFile(cfg.Storage.StatePath)
//	err = store.SetMany(map[string]string{"a": "1", "b": "2"})
//	value, ok, err := store.Get("a")
package storage
