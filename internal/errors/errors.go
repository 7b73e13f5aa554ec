// Package errors re-exports github.com/cockroachdb/errors and declares the
// sentinel conditions shared by the relay pipeline.
//
// Wrap backend failures with Mark so callers can match the condition with Is
// while the original cause and stack stay attached:
//
//	if err := pool.Ping(ctx); err != nil {
//	    return errors.Mark(errors.Wrap(err, "ping postgres"), errors.ErrStoreUnavailable)
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Creation and wrapping.
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
	Join         = crdb.Join
)

// Hints and details.
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
	GetAllHints = crdb.GetAllHints
)

// Inspection.
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

var (
	// ErrConfigurationMissing means a component lacks a required endpoint or
	// credential and is not activated.
	ErrConfigurationMissing = New("configuration missing")

	// ErrStoreUnavailable means the idempotency backend cannot be reached or
	// cannot accept writes.
	ErrStoreUnavailable = New("idempotency store unavailable")

	// ErrSinkUnavailable means a configured sink could not reach its backend
	// while starting. The sink is skipped and the pipeline runs without it.
	ErrSinkUnavailable = New("sink unavailable")

	// ErrDeliveryFailed marks a per-sink delivery failure.
	ErrDeliveryFailed = New("delivery failed")

	// ErrMalformedDate means a date string could not be parsed.
	ErrMalformedDate = New("malformed date")
)

// Missing returns an ErrConfigurationMissing error naming the absent key.
func Missing(key string) error {
	return Mark(Newf("%s is not set", key), ErrConfigurationMissing)
}

// IsConfigurationMissing reports whether err is or wraps ErrConfigurationMissing.
func IsConfigurationMissing(err error) bool {
	return err != nil && Is(err, ErrConfigurationMissing)
}

// IsStoreUnavailable reports whether err is or wraps ErrStoreUnavailable.
func IsStoreUnavailable(err error) bool {
	return err != nil && Is(err, ErrStoreUnavailable)
}

// SinkUnavailable wraps err and marks it ErrSinkUnavailable.
func SinkUnavailable(err error, msg string) error {
	return Mark(Wrap(err, msg), ErrSinkUnavailable)
}

// IsSinkUnavailable reports whether err is or wraps ErrSinkUnavailable.
func IsSinkUnavailable(err error) bool {
	return err != nil && Is(err, ErrSinkUnavailable)
}
