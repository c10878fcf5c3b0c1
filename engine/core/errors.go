package core

import (
	"errors"
)

var (
	ErrShuttingDown = errors.New("engine is shutting down")
	ErrUnknown      = errors.New("unknown")
)
