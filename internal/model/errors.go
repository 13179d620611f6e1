package model

import (
	"errors"

	"github.com/Brownie44l1/sar-colorize/internal/weights"
)

var (
	// ErrUnavailable means a weight artifact is missing or unreadable. The
	// capability is disabled but the process keeps running.
	ErrUnavailable = errors.New("model unavailable")

	// ErrArchitectureMismatch means the artifact loaded but does not fit
	// the network definition. This is a configuration error.
	ErrArchitectureMismatch = weights.ErrMismatch
)
