package orchestrator

import "errors"

// ErrorKind classifies a façade error into the taxonomy every host surfaces
// to its own error type (spec §4.12/§7). Kinds, not names: callers switch on
// Kind, never on Error() text.
type ErrorKind string

const (
	KindNotInitialized   ErrorKind = "not_initialized"
	KindAlreadyInit      ErrorKind = "already_initialized"
	KindNotFound         ErrorKind = "not_found"
	KindInvalidState     ErrorKind = "invalid_state"
	KindInvalidInput     ErrorKind = "invalid_input"
	KindCrypto           ErrorKind = "crypto_error"
	KindSignatureInvalid ErrorKind = "signature_invalid"
	KindTokenExpired     ErrorKind = "token_expired"
	KindInvalidFormat    ErrorKind = "invalid_format"
	KindTooManySkipped   ErrorKind = "too_many_skipped"
	KindDuplicateMessage ErrorKind = "duplicate_message"
	KindMigration        ErrorKind = "migration"
	KindStorage          ErrorKind = "storage"
	KindNoChanges        ErrorKind = "no_changes"
	KindRateLimited      ErrorKind = "rate_limited"
)

// CategorizedError pairs a taxonomy Kind with the underlying error, so a
// host can branch on Kind while Error() still carries the detail.
type CategorizedError struct {
	Kind ErrorKind
	Err  error
}

func (e *CategorizedError) Error() string {
	return e.Err.Error()
}

func (e *CategorizedError) Unwrap() error {
	return e.Err
}

func wrap(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &CategorizedError{Kind: kind, Err: err}
}

// Is lets callers do errors.Is(err, orchestrator.ErrNotInitialized) style
// checks against a kind rather than a specific sentinel.
func Is(err error, kind ErrorKind) bool {
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

var (
	ErrNotInitialized   = errors.New("orchestrator: identity not initialized")
	ErrAlreadyExists    = errors.New("orchestrator: identity already initialized")
	ErrNoOwnCardChanges = errors.New("orchestrator: own card has no changes")
	ErrRateLimited      = errors.New("orchestrator: too many attempts, try again later")
)
