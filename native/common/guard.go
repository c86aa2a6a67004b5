package common

import (
	"errors"
	"sync"
)

// ErrModulePaused is returned by Guard when the named module is halted.
var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a protocol module is currently halted.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the module is paused. A nil view or empty
// module name disables the check, matching an unconfigured engine.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Pauses is a concrete PauseView with per-module switches, intended for the
// registry owner to flip during incident response.
type Pauses struct {
	mu     sync.RWMutex
	halted map[string]bool
}

// NewPauses returns an empty pause set with every module running.
func NewPauses() *Pauses {
	return &Pauses{halted: make(map[string]bool)}
}

// SetPaused toggles the halt switch for the named module.
func (p *Pauses) SetPaused(module string, paused bool) {
	if p == nil || module == "" {
		return
	}
	p.mu.Lock()
	p.halted[module] = paused
	p.mu.Unlock()
}

// IsPaused implements PauseView.
func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.halted[module]
}
