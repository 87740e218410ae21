// Package errors provides the structured error taxonomy shared by every
// engine subsystem. Error kind and fields travel through events until the
// report/UI renders them; this package never converts an error to a human
// string at the site of origin.
package errors

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories named by the error-kind
// taxonomy. Kinds are language-neutral and stable across releases.
type Kind string

const (
	// Configuration
	KindMissingService  Kind = "missing_service"
	KindInvalidScenario Kind = "invalid_scenario"
	KindInvalidSUT      Kind = "invalid_sut"

	// Template
	KindTemplateMissingKey Kind = "template_missing_key"
	KindTemplateParse      Kind = "template_parse"

	// Sandbox
	KindSandboxForbiddenNode Kind = "sandbox_forbidden_node"
	KindSandboxTimeout       Kind = "sandbox_timeout"

	// Transport
	KindDNS       Kind = "dns"
	KindConnect   Kind = "connect"
	KindTLS       Kind = "tls"
	KindTimeout   Kind = "timeout"
	KindTransport Kind = "transport"

	// Response
	KindStatus     Kind = "status"
	KindBodyDecode Kind = "body_decode"

	// Extraction
	KindExtractionMissingPath Kind = "extraction_missing_path"

	// Wait
	KindWaitTimeout Kind = "wait_timeout"

	// Assertion
	KindAssertionFailed Kind = "assertion_failed"

	// Instance-level
	KindMaxStepsExceeded Kind = "max_steps_exceeded"
	KindCancelled        Kind = "cancelled"
	KindInternal         Kind = "internal"

	// Store
	KindStoreWrite   Kind = "store_write"
	KindStoreCorrupt Kind = "store_corrupt"
)

// Detail is the structured error shape carried by Observation.errors and
// AssertionResult.error. One concrete type backs every runner's error
// output so fields are comparable across the whole engine.
type Detail struct {
	Kind     Kind           `json:"kind"`
	Message  string         `json:"message,omitempty"`
	Path     string         `json:"path,omitempty"`
	Attempts int            `json:"attempts,omitempty"`
	Expected string         `json:"expected,omitempty"`
	Actual   string         `json:"actual,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// Error implements the error interface.
func (d *Detail) Error() string {
	if d == nil {
		return ""
	}
	if d.Message != "" {
		return fmt.Sprintf("[%s] %s", d.Kind, d.Message)
	}
	return fmt.Sprintf("[%s]", d.Kind)
}

// New builds a Detail with the given kind and message.
func New(kind Kind, message string) *Detail {
	return &Detail{Kind: kind, Message: message}
}

// Wrap produces a Detail carrying the wrapped error's text as its message.
func Wrap(kind Kind, err error) *Detail {
	if err == nil {
		return nil
	}
	return &Detail{Kind: kind, Message: err.Error()}
}

// WithPath returns a copy of d with Path set.
func (d *Detail) WithPath(path string) *Detail {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Path = path
	return &cp
}

// WithAttempts returns a copy of d with Attempts set.
func (d *Detail) WithAttempts(n int) *Detail {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Attempts = n
	return &cp
}

// WithExpectedActual returns a copy of d carrying rendered expected/actual
// strings, used by assertion failures.
func (d *Detail) WithExpectedActual(expected, actual string) *Detail {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Expected = expected
	cp.Actual = actual
	return &cp
}

// Is reports whether err (or any error it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var d *Detail
	if errors.As(err, &d) {
		return d.Kind == kind
	}
	return false
}
