// Package common holds cross-module plumbing shared by the pool's native
// modules.
package common

import "errors"

// ErrModulePaused rejects mutations against a module the operator has halted.
var ErrModulePaused = errors.New("module paused")

// PauseView reports the operator pause switchboard. The lending engine checks
// it at the top of every state-changing entry point.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when the named module is halted. An unwired
// view or an empty module name passes: pausing is opt-in and a missing
// switchboard must never brick the pool.
func Guard(view PauseView, module string) error {
	if view == nil || module == "" {
		return nil
	}
	if view.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
