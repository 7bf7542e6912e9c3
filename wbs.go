// Package wbs provides a minimal public API for embedding the work-packet
// orchestration kernel in other Go programs.
//
// Most integrations should shell out to the wbs CLI or call the HTTP API.
// This package exports only the essential types and entry points for
// programs that want to drive the lifecycle engine directly.
package wbs

import (
	"github.com/governedworks/wbs/internal/kernel"
	"github.com/governedworks/wbs/internal/types"
)

// Kernel is one project's lifecycle engine.
type Kernel = kernel.Kernel

// Config tunes lock acquisition for a kernel instance.
type Config = kernel.Config

// Definition is the declarative work breakdown loaded from wbs.json.
type Definition = types.Definition

// State is the runtime state persisted under .wbs/wbs-state.json.
type State = types.State

// TransitionResult reports the outcome of a lifecycle transition.
type TransitionResult = kernel.TransitionResult

// Error is the typed error returned by every kernel operation; use KindOf
// to dispatch on its kind.
type Error = types.Error

// Open loads the project rooted at dir.
func Open(dir string, cfg Config) (*Kernel, error) {
	return kernel.Open(dir, cfg)
}

// Init instantiates a project at dir from a definition file and returns an
// opened kernel. Safe to re-run; existing runtime state is kept.
func Init(dir, definitionPath string) (*Kernel, error) {
	return kernel.Init(dir, definitionPath)
}

// KindOf extracts the error kind from any error returned by this module.
func KindOf(err error) types.ErrorKind {
	return types.KindOf(err)
}
