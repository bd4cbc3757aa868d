package auth

import "errors"

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")

	// Login failures are indistinguishable between unknown email and wrong
	// password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// Refresh token failures, in the order they are detected.
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrRevoked      = errors.New("auth: refresh token revoked or expired")
	ErrMismatch     = errors.New("auth: token identity does not match its record")
	ErrDeleted      = errors.New("auth: account has been deleted")

	// Scope and rank guard failures.
	ErrRoleEscalation   = errors.New("auth: requested role is not assignable by the actor")
	ErrOutOfScope       = errors.New("auth: placement lies outside the actor's branch")
	ErrInvalidReference = errors.New("auth: referenced record does not exist")
	ErrMissingPlacement = errors.New("auth: actor role requires a placement it does not have")
	ErrSelfDeletion     = errors.New("auth: cannot delete own account")
	ErrAlreadyDeleted   = errors.New("auth: account already deleted")
	ErrRankViolation    = errors.New("auth: actor does not outrank the target")
)
