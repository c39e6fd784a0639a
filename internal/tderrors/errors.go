// Package tderrors defines the error taxonomy shared by every decoder layer.
//
// Every parse step that consumes attacker-controlled bytes returns one of
// these kinds as a *TDError built by Wrap, which records the field name and
// the underlying cause (reachable through Unwrap) while errors.Is/errors.As
// still match against the sentinel kind.
package tderrors

import (
	"errors"
	"fmt"
)

// Kind identifies a class of error from the decoder taxonomy (§7).
type Kind string

// Error kinds. These are not Go types but a closed enumeration; each is
// paired with a sentinel error value below so callers can errors.Is() it.
const (
	KindNotFound          Kind = "not_found"
	KindInvalidVault      Kind = "invalid_vault"
	KindInvalidZoneTable  Kind = "invalid_zone_table"
	KindInvalidTerritory  Kind = "invalid_territory"
	KindChecksumMismatch  Kind = "checksum_mismatch"
	KindHashMismatch      Kind = "hash_mismatch"
	KindUnsupported       Kind = "unsupported"
	KindSizeMismatch      Kind = "size_mismatch"
	KindReadError         Kind = "read_error"
	KindWriteError        Kind = "write_error"
	KindPermissionDenied  Kind = "permission_denied"
	KindCancelled         Kind = "cancelled"
	KindInvalidPath       Kind = "invalid_path"
	KindAlreadyExists     Kind = "already_exists"
)

// TDError is a taxonomy-tagged error. Field carries the name of the binary
// field or structure that failed validation, when known.
type TDError struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *TDError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *TDError) Unwrap() error { return e.Err }

// Is matches any TDError with the same Kind, so errors.Is(err, tderrors.New(KindChecksumMismatch, "")) works as a kind test.
func (e *TDError) Is(target error) bool {
	var t *TDError
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New creates a bare sentinel of the given kind, for use with errors.Is.
func New(kind Kind, message string) *TDError {
	return &TDError{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind naming field, wrapping cause.
func Wrap(kind Kind, field, message string, cause error) *TDError {
	return &TDError{Kind: kind, Field: field, Message: message, Err: cause}
}

// Sentinels usable with errors.Is for a pure kind check.
var (
	ErrNotFound         = New(KindNotFound, "not found")
	ErrInvalidVault     = New(KindInvalidVault, "invalid vault")
	ErrInvalidZoneTable = New(KindInvalidZoneTable, "invalid zone table")
	ErrInvalidTerritory = New(KindInvalidTerritory, "invalid territory")
	ErrChecksumMismatch = New(KindChecksumMismatch, "checksum mismatch")
	ErrHashMismatch     = New(KindHashMismatch, "hash mismatch")
	ErrUnsupported      = New(KindUnsupported, "unsupported")
	ErrSizeMismatch     = New(KindSizeMismatch, "size mismatch")
	ErrReadError        = New(KindReadError, "read error")
	ErrWriteError       = New(KindWriteError, "write error")
	ErrPermissionDenied = New(KindPermissionDenied, "permission denied")
	ErrCancelled        = New(KindCancelled, "cancelled")
	ErrInvalidPath      = New(KindInvalidPath, "invalid path")
	ErrAlreadyExists    = New(KindAlreadyExists, "already exists")
)

// Is reports whether err belongs to the given kind.
func Is(err error, kind Kind) bool {
	var t *TDError
	if errors.As(err, &t) {
		return t.Kind == kind
	}
	return false
}
