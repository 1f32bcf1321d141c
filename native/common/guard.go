package common

import (
	"errors"
	"strings"
)

// ErrModulePaused is returned when a mutating operation hits a paused module.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the operator pause switches.
type PauseView interface {
	IsPaused(module string) bool
}

// NormalizeModule canonicalizes a module name for pause lookups.
func NormalizeModule(module string) string {
	return strings.ToLower(strings.TrimSpace(module))
}

// Guard rejects the call when the named module is paused. A nil view or empty
// module name means no pause enforcement.
func Guard(p PauseView, module string) error {
	module = NormalizeModule(module)
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
