//go:build cgo

package main

import (
	"fmt"

	"github.com/dusk-indust/a2abridge/internal/config"
	"github.com/dusk-indust/a2abridge/internal/session"
)

// openStore opens the session store selected by cfg.
func openStore(cfg config.SessionConfig) (session.Store, error) {
	switch cfg.Backend {
	case "", config.BackendMemory:
		return session.NewMemoryStore(), nil
	case config.BackendKuzu:
		if cfg.Path == "" {
			return session.NewKuzuStore()
		}
		return session.NewKuzuFileStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}
