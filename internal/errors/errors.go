// Package errors provides error handling for tpcpid.
//
// It re-exports github.com/cockroachdb/errors and declares the sentinel
// markers used to classify failures:
//
//	ErrConfiguration  bad names, unreadable files, malformed paths, bad codec
//	ErrLookup         no calibration object valid at the requested timestamp
//	ErrEvaluation     zero or non-finite resolution during response evaluation
//
// Classify with Mark and test with Is:
//
//	return errors.Mark(errors.Wrapf(err, "reading %s", path), errors.ErrConfiguration)
//
//	if errors.Is(err, errors.ErrLookup) { ... }
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

var (
	ErrConfiguration = New("configuration error")
	ErrLookup        = New("calibration object not found")
	ErrEvaluation    = New("response evaluation failed")
)

// Configf creates a new error marked as ErrConfiguration.
func Configf(format string, args ...interface{}) error {
	return Mark(crdb.NewWithDepthf(1, format, args...), ErrConfiguration)
}

// Evaluationf creates a new error marked as ErrEvaluation.
func Evaluationf(format string, args ...interface{}) error {
	return Mark(crdb.NewWithDepthf(1, format, args...), ErrEvaluation)
}
