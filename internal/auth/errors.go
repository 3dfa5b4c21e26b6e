package auth

import "errors"

var (
	// ErrInvalidCredentials is returned when sign-in fails for any reason.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrUserExists is returned when signing up with a registered email.
	ErrUserExists = errors.New("user already exists")
	// ErrUnauthenticated is returned when a token or key does not resolve to a live session.
	ErrUnauthenticated = errors.New("not authenticated")
)

// ValidationError describes invalid caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
