package uodm

import "sync"

var (
	defaultMu    sync.RWMutex
	defaultStore *Store
)

// SetDefault installs a process-wide default store for code that does not
// want to thread a handle through. Passing nil clears it.
func SetDefault(s *Store) {
	defaultMu.Lock()
	defaultStore = s
	defaultMu.Unlock()
}

// Default returns the process-wide store installed with SetDefault, or
// nil when none is set.
func Default() *Store {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultStore
}
