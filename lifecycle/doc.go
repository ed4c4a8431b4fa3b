// Package lifecycle provides component lifecycle management for Go applications.
//
// It defines interfaces and utilities for managing the startup and shutdown
// lifecycle of application components.
package lifecycle

import (
	"errors"

	"github.com/trailcast/orchestrator/l3"
)

var logger = l3.Get()

// ErrCyclicDependency is returned when AddDependency is asked to make a
// component depend on one that already depends directly on it. Longer
// cycles through other components are not detected.
var ErrCyclicDependency = errors.New("lifecycle: cyclic component dependency")
