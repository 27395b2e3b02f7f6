/*
Copyright 2026 The Pigeon Optics Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package pkgerr defines the error taxonomy shared by every layer of the
// core: storage, dataset, attachment, and lens code all return errors that
// can be tested against these with errors.Is/errors.As, regardless of what
// they wrap underneath.
package pkgerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies which of the core's error categories an error belongs to.
type Kind int

const (
	_ Kind = iota
	NotFound
	AlreadyExists
	MissingAttachments
	ValidationFailed
	CodecError
	IOError
	SandboxError
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NOT_FOUND"
	case AlreadyExists:
		return "ALREADY_EXISTS"
	case MissingAttachments:
		return "MISSING_ATTACHMENTS"
	case ValidationFailed:
		return "VALIDATION_FAILED"
	case CodecError:
		return "CODEC_ERROR"
	case IOError:
		return "IO_ERROR"
	case SandboxError:
		return "SANDBOX_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Error is the concrete error type produced by core operations. Callers
// should not construct these directly; use the constructor helpers below
// (NotFoundf, CodecErrorf, and so on).
type Error struct {
	Kind    Kind
	Message string
	Wrapped error

	// Missing holds the hash URLs for a MissingAttachments error.
	Missing []string
	// Input names which lens input produced a SandboxError.
	Input string
	// Stack holds the sandbox-reported stack trace for a SandboxError.
	Stack string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Missing) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Missing, ", "))
		b.WriteString(")")
	}
	if e.Wrapped != nil {
		b.WriteString(": ")
		b.WriteString(e.Wrapped.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, &pkgerr.Error{Kind: pkgerr.NotFound}), or use
// the Is* helpers below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == 0 {
		return false
	}
	return e.Kind == t.Kind
}

func NotFoundf(format string, args ...interface{}) error {
	return &Error{Kind: NotFound, Message: fmt.Sprintf(format, args...)}
}

func AlreadyExistsf(format string, args ...interface{}) error {
	return &Error{Kind: AlreadyExists, Message: fmt.Sprintf(format, args...)}
}

func MissingAttachmentsErr(missing []string) error {
	return &Error{Kind: MissingAttachments, Message: "unresolved hash links", Missing: missing}
}

func ValidationFailedf(format string, args ...interface{}) error {
	return &Error{Kind: ValidationFailed, Message: fmt.Sprintf(format, args...)}
}

func CodecErrorf(err error, format string, args ...interface{}) error {
	return &Error{Kind: CodecError, Message: fmt.Sprintf(format, args...), Wrapped: err}
}

func IOErrorf(err error, format string, args ...interface{}) error {
	return &Error{Kind: IOError, Message: fmt.Sprintf(format, args...), Wrapped: err}
}

func SandboxErrorf(input, message, stack string) error {
	return &Error{Kind: SandboxError, Message: message, Input: input, Stack: stack}
}

// Is* helpers mirror the common errors.Is(err, os.ErrNotExist) idiom.

func IsNotFound(err error) bool            { return is(err, NotFound) }
func IsAlreadyExists(err error) bool        { return is(err, AlreadyExists) }
func IsMissingAttachments(err error) bool   { return is(err, MissingAttachments) }
func IsValidationFailed(err error) bool     { return is(err, ValidationFailed) }
func IsCodecError(err error) bool           { return is(err, CodecError) }
func IsIOError(err error) bool              { return is(err, IOError) }
func IsSandboxError(err error) bool         { return is(err, SandboxError) }

func is(err error, k Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == k
}

// AsMissingAttachments extracts the list of missing hash URLs, if err is a
// MissingAttachments error.
func AsMissingAttachments(err error) ([]string, bool) {
	var e *Error
	if !errors.As(err, &e) || e.Kind != MissingAttachments {
		return nil, false
	}
	return e.Missing, true
}
