// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfremove

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an Error so callers can decide whether a batch needs
// to recover from a snapshot (see the package doc for the mid-cascade
// recovery contract).
type Kind int

const (
	// UnsupportedArchitecture means the file's e_machine is neither
	// EM_386 nor EM_X86_64.
	UnsupportedArchitecture Kind = iota
	// MissingSection means a section required for the requested
	// operation (e.g. .dynsym for RemoveSymbols) is absent.
	MissingSection
	// StaleCollection means a SymbolRef was collected against a
	// section revision that has since been mutated.
	StaleCollection
	// IntegrityViolation means an on-disk structure disagreed with an
	// invariant the cascade depends on (a GNU hash chain's stored hash,
	// a removed symbol outside the GNU hash chain array, descending
	// bucket order of symbols to remove). Relocation tables are not
	// checked for duplicate references: the compactor removes every
	// entry that matches a removed symbol.
	IntegrityViolation
	// SizeUnderflow means a requested section size decrement would
	// drive sh_size negative.
	SizeUnderflow
	// IOFailure wraps an underlying read/write error.
	IOFailure
)

func (k Kind) String() string {
	switch k {
	case UnsupportedArchitecture:
		return "UnsupportedArchitecture"
	case MissingSection:
		return "MissingSection"
	case StaleCollection:
		return "StaleCollection"
	case IntegrityViolation:
		return "IntegrityViolation"
	case SizeUnderflow:
		return "SizeUnderflow"
	case IOFailure:
		return "IOFailure"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the error type returned by every exported operation in this
// package. The planning-phase Kinds (everything but IOFailure) abort
// before any byte is written when detected during planning; if raised
// mid-cascade the file has already been partially rewritten and the
// caller must recover from a snapshot taken before the batch (see the
// package doc).
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// newErr builds an *Error, attaching a stack trace via pkg/errors so a
// mid-cascade abort can be diagnosed after the fact.
func newErr(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: errors.New(fmt.Sprintf(format, args...))}
}

// wrapErr attaches kind and a stack trace to an underlying error (used
// for IOFailure, where cause is a real OS error).
func wrapErr(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: errors.WithStack(cause)}
}
