package core

import (
	"errors"
	"fmt"

	"dosecore/pkg/domain"
)

// ErrClosed is returned by operations submitted after Close.
var ErrClosed = errors.New("service closed")

// ErrNotFound reports a protocol ID with no record.
type ErrNotFound struct {
	ID string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("protocol %s not found", e.ID)
}

// ErrTransitionRejected reports a lifecycle move the record does not allow.
type ErrTransitionRejected struct {
	ID     string
	From   domain.ProtocolState
	To     domain.ProtocolState
	Reason string
}

func (e ErrTransitionRejected) Error() string {
	return fmt.Sprintf("protocol %s: cannot move %s to %s: %s", e.ID, e.From, e.To, e.Reason)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	var target ErrNotFound
	return errors.As(err, &target)
}

// IsTransitionRejected reports whether err wraps ErrTransitionRejected.
func IsTransitionRejected(err error) bool {
	var target ErrTransitionRejected
	return errors.As(err, &target)
}
