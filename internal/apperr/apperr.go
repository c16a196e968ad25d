// Package apperr defines the sentinel errors shared by the lifecycle,
// streaming and sharing services. Callers classify with errors.Is and the
// HTTP layer maps each sentinel to a status code.
package apperr

import "errors"

var (
	// ErrValidation marks bad input shape or size.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a referenced task, team, bot or subtask that is
	// absent or inactive.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a task that is mid-flight and cannot be appended to.
	ErrConflict = errors.New("conflict")
	// ErrGone marks a task that has been permanently cleared or deleted.
	ErrGone = errors.New("gone")
	// ErrExpired marks a task whose append window has elapsed.
	ErrExpired = errors.New("expired")
	// ErrInvalidConfiguration marks a team with no usable members or bots.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrInvalidState marks a subtask in a non-resumable status.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidToken marks an undecodable share token.
	ErrInvalidToken = errors.New("invalid share token")
	// ErrSelfCopy marks an attempt to copy one's own shared task.
	ErrSelfCopy = errors.New("cannot copy own task")
	// ErrAlreadyCopied marks a repeat copy while the previous copy is alive.
	ErrAlreadyCopied = errors.New("already copied")
	// ErrMissingWorkspace marks a code-task copy without a usable workspace.
	ErrMissingWorkspace = errors.New("missing workspace")
	// ErrInternal marks allocation or commit failures.
	ErrInternal = errors.New("internal error")
)
