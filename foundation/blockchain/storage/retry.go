package storage

import (
	"errors"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/cenkalti/backoff/v4"
)

// Default retry settings.
const (
	DefaultInitialInterval = 10 * time.Millisecond
	DefaultMaxInterval     = time.Second
	DefaultMaxRetries      = 5
)

// RetryConfig represents the values that drive retries at the storage
// boundary. A nil Transient retries every error that is not a missing key
// or a ledger error.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64
	Transient       func(err error) bool
	EvHandler       func(v string, args ...any)
}

// Retry wraps a KV and retries transient failures with exponential backoff.
// Failures that survive the retries are returned as storage errors. This
// implements the KV interface.
type Retry struct {
	kv  KV
	cfg RetryConfig
	ev  func(v string, args ...any)
}

// NewRetry constructs a retrying KV around the specified store.
func NewRetry(kv KV, cfg RetryConfig) *Retry {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultMaxInterval
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	ev := cfg.EvHandler
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	return &Retry{
		kv:  kv,
		cfg: cfg,
		ev:  ev,
	}
}

// Get returns the value stored for the key.
func (r *Retry) Get(ns string, key []byte) ([]byte, error) {
	var val []byte
	err := r.do("get", func() error {
		var err error
		val, err = r.kv.Get(ns, key)
		return err
	})
	return val, err
}

// Put stores the value for the key.
func (r *Retry) Put(ns string, key []byte, val []byte) error {
	return r.do("put", func() error {
		return r.kv.Put(ns, key, val)
	})
}

// Delete removes the key.
func (r *Retry) Delete(ns string, key []byte) error {
	return r.do("delete", func() error {
		return r.kv.Delete(ns, key)
	})
}

// ScanPrefix walks the keys with the prefix. A scan is only retried when it
// fails before fn sees the first key.
func (r *Retry) ScanPrefix(ns string, prefix []byte, fn func(key []byte, val []byte) error) error {
	var started bool
	return r.do("scan", func() error {
		err := r.kv.ScanPrefix(ns, prefix, func(key []byte, val []byte) error {
			started = true
			return fn(key, val)
		})
		if err != nil && started {
			return backoff.Permanent(err)
		}
		return err
	})
}

// Update runs fn in an atomic scope. The whole scope is replayed on a
// transient failure so fn must not have side effects outside the Txn.
func (r *Retry) Update(fn func(txn Txn) error) error {
	return r.do("update", func() error {
		return r.kv.Update(fn)
	})
}

// Close releases the wrapped store.
func (r *Retry) Close() error {
	return r.kv.Close()
}

// =============================================================================

func (r *Retry) do(op string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.InitialInterval
	bo.MaxInterval = r.cfg.MaxInterval

	operation := func() error {
		err := fn()
		if err == nil || r.transient(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, next time.Duration) {
		r.ev("storage: retry: %s: next[%v]: %s", op, next, err)
	}

	err := backoff.RetryNotify(operation, backoff.WithMaxRetries(bo, r.cfg.MaxRetries), notify)
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrNotFound) || database.IsLedgerError(err) {
		return err
	}

	return database.NewStorageError(op, err)
}

func (r *Retry) transient(err error) bool {
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return false
	}

	if errors.Is(err, ErrNotFound) || database.IsLedgerError(err) {
		return false
	}

	if r.cfg.Transient == nil {
		return true
	}
	return r.cfg.Transient(err)
}
