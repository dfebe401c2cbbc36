package database

import (
	"errors"
	"fmt"
)

// Set of sentinel errors shared across the ledger packages.
var (
	// ErrMiningPreempted is returned by POW when a competing block was
	// accepted while the candidate was being mined.
	ErrMiningPreempted = errors.New("mining preempted by a newly accepted block")

	// ErrNoTransactions is returned when there is nothing to mine.
	ErrNoTransactions = errors.New("no transactions in mempool")
)

// Kind classifies a ledger error so callers can decide how to react.
type Kind int

// Set of error kinds.
const (
	KindStructural  Kind = iota + 1 // Malformed data, bad hashes or signatures.
	KindEconomic                    // Fees, capacity, congestion or rebroadcast rules.
	KindConsistency                 // Missing or spent outputs, ordering problems.
	KindStorage                     // The persistence layer failed.
)

// String implements the fmt.Stringer interface.
func (k Kind) String() string {
	switch k {
	case KindStructural:
		return "structural"
	case KindEconomic:
		return "economic"
	case KindConsistency:
		return "consistency"
	case KindStorage:
		return "storage"
	}
	return "unknown"
}

// Error carries the context needed to understand why a ledger operation
// failed: the entity involved and, when it applies, the value that was
// expected against the one that was found.
type Error struct {
	Kind     Kind
	Entity   string
	Msg      string
	Expected any
	Actual   any
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", e.Kind, e.Entity, e.Msg)
	if e.Expected != nil || e.Actual != nil {
		msg = fmt.Sprintf("%s: exp[%v] got[%v]", msg, e.Expected, e.Actual)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap provides support for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// =============================================================================

// NewStructuralError constructs a structural error for the specified entity.
func NewStructuralError(entity string, format string, args ...any) error {
	return &Error{Kind: KindStructural, Entity: entity, Msg: fmt.Sprintf(format, args...)}
}

// NewEconomicError constructs an economic error for the specified entity.
func NewEconomicError(entity string, format string, args ...any) error {
	return &Error{Kind: KindEconomic, Entity: entity, Msg: fmt.Sprintf(format, args...)}
}

// NewConsistencyError constructs a consistency error for the specified entity.
func NewConsistencyError(entity string, format string, args ...any) error {
	return &Error{Kind: KindConsistency, Entity: entity, Msg: fmt.Sprintf(format, args...)}
}

// NewStorageError wraps a failure from the persistence layer.
func NewStorageError(op string, err error) error {
	return &Error{Kind: KindStorage, Entity: op, Msg: "storage operation failed", Err: err}
}

// NewMismatchError constructs an error of the specified kind that records
// the expected and actual values.
func NewMismatchError(kind Kind, entity string, msg string, expected any, actual any) error {
	return &Error{Kind: kind, Entity: entity, Msg: msg, Expected: expected, Actual: actual}
}

// =============================================================================

// KindOf returns the kind of ledger error contained in the error chain or
// zero when the error is not a ledger error.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return 0
}

// IsLedgerError reports whether the error chain contains a ledger error.
func IsLedgerError(err error) bool {
	return KindOf(err) != 0
}

// IsStructural reports whether the error is a structural error.
func IsStructural(err error) bool {
	return KindOf(err) == KindStructural
}

// IsEconomic reports whether the error is an economic error.
func IsEconomic(err error) bool {
	return KindOf(err) == KindEconomic
}

// IsConsistency reports whether the error is a consistency error.
func IsConsistency(err error) bool {
	return KindOf(err) == KindConsistency
}

// IsStorage reports whether the error is a storage error.
func IsStorage(err error) bool {
	return KindOf(err) == KindStorage
}
