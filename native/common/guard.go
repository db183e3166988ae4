// Package common holds the cross-module pause plumbing shared by the native
// modules.
package common

import (
	"errors"
	"sync"
)

// ErrModulePaused is returned by every mutating operation while the module's
// pause switch is set.
var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named module is paused. A nil view means no
// module is ever paused.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard is the common entry check: nil view or empty module name passes.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Pauses is a concurrency-safe PauseView backed by a set of paused module
// names. The zero value is ready to use.
type Pauses struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// Set flips the pause switch for a module.
func (p *Pauses) Set(module string, paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused == nil {
		p.paused = make(map[string]bool)
	}
	if paused {
		p.paused[module] = true
	} else {
		delete(p.paused, module)
	}
}

// IsPaused implements PauseView.
func (p *Pauses) IsPaused(module string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[module]
}
