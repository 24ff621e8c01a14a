// Package errors defines the typed failures surfaced by fastembed.
//
// Every failure returned across a package boundary is an *Error carrying a Kind.
// Callers classify with the standard library:
//
//	if errors.Is(err, fserrors.ErrDownload) { ... }
//
// or extract the details with errors.As.
package errors

import (
	"errors"
	"strings"
)

// Kind classifies a failure for handling purposes.
type Kind int

const (
	// KindUnknown is reported by KindOf for errors that were not produced by fastembed.
	KindUnknown Kind = iota
	// KindConfiguration is an invalid option, rejected before any I/O.
	KindConfiguration
	// KindDownload is a network or transport failure fetching an artifact.
	KindDownload
	// KindStorage is a filesystem read or write failure in the artifact cache.
	KindStorage
	// KindModelLoad is a corrupt or incompatible weight or tokenizer file.
	KindModelLoad
	// KindInference is a runtime failure during a forward pass.
	KindInference
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindDownload:
		return "download"
	case KindStorage:
		return "storage"
	case KindModelLoad:
		return "model_load"
	case KindInference:
		return "inference"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against an *Error of the same Kind.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrDownload      = errors.New("download error")
	ErrStorage       = errors.New("storage error")
	ErrModelLoad     = errors.New("model load error")
	ErrInference     = errors.New("inference error")

	// ErrNotReady is returned when a session is used before it reached the ready state.
	ErrNotReady = errors.New("session not ready")
	// ErrClosed is returned when a session is used after Close.
	ErrClosed = errors.New("session closed")
)

func (k Kind) sentinel() error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindDownload:
		return ErrDownload
	case KindStorage:
		return ErrStorage
	case KindModelLoad:
		return ErrModelLoad
	case KindInference:
		return ErrInference
	default:
		return nil
	}
}

// Error is a classified fastembed failure.
type Error struct {
	Kind  Kind
	Op    string // operation in progress, e.g. "artifact.ensure"
	Model string // model identifier, when known
	Err   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" [")
		b.WriteString(e.Op)
		b.WriteString("]")
	}
	if e.Model != "" {
		b.WriteString(" model=")
		b.WriteString(e.Model)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's Kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// New returns an *Error of the given kind. A nil err yields nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithModel returns a copy of err annotated with model when err is an *Error without one.
func WithModel(err error, model string) error {
	var e *Error
	if !errors.As(err, &e) || e.Model != "" {
		return err
	}
	cp := *e
	cp.Model = model
	return &cp
}

// Configuration wraps err as a KindConfiguration failure.
func Configuration(op string, err error) error { return New(KindConfiguration, op, err) }

// Download wraps err as a KindDownload failure.
func Download(op string, err error) error { return New(KindDownload, op, err) }

// Storage wraps err as a KindStorage failure.
func Storage(op string, err error) error { return New(KindStorage, op, err) }

// ModelLoad wraps err as a KindModelLoad failure.
func ModelLoad(op string, err error) error { return New(KindModelLoad, op, err) }

// Inference wraps err as a KindInference failure.
func Inference(op string, err error) error { return New(KindInference, op, err) }

// KindOf returns the Kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
