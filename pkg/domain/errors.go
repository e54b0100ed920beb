package domain

import "errors"

// ErrExecutionNotFound is returned when an execution ID cannot be found in the store.
var ErrExecutionNotFound = errors.New("execution not found")

// ErrExecutionNotActive is returned when a turn targets an execution in a terminal status.
var ErrExecutionNotActive = errors.New("execution not active")

// ErrGraphNotFound is returned when a graph definition (or the requested version) does not exist.
var ErrGraphNotFound = errors.New("graph definition not found")

// ErrConflict is returned by stores when the persisted revision moved since the record was loaded.
var ErrConflict = errors.New("execution revision conflict")

// ErrInvalidTrigger is returned when a trigger payload is malformed.
var ErrInvalidTrigger = errors.New("invalid trigger")

// ErrNoStartNode is returned when a graph has no single start node to enter.
var ErrNoStartNode = errors.New("graph has no start node")

// ErrGraphVersionChanged is returned when a published graph version is
// offered again with different content. Published versions are immutable.
var ErrGraphVersionChanged = errors.New("graph version changed without a version bump")
