package vast

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNetwork indicates a document could not be retrieved.
	ErrNetwork = errors.New("vast: network error")
	// ErrMalformedDocument indicates bytes that are not a VAST document.
	ErrMalformedDocument = errors.New("vast: malformed document")
	// ErrMissingRequiredField indicates a well-formed document lacking a
	// mandatory element.
	ErrMissingRequiredField = errors.New("vast: missing required field")
	// ErrWrapperDepthExceeded indicates the wrapper chain is longer than allowed.
	ErrWrapperDepthExceeded = errors.New("vast: wrapper depth exceeded")
)

// VAST 2.0 error codes reported through [ERRORCODE].
const (
	CodeXMLParse         = 100
	CodeWrapper          = 300
	CodeWrapperFetch     = 301
	CodeWrapperLimit     = 302
	CodeNoAdResponse     = 303
	CodeUndefinedLinear  = 400
	CodeMediaNotFound    = 401
	CodeMediaTimeout     = 402
	CodeNoSupportedMedia = 403
	CodeUndefinedError   = 900
)

// ParseError describes a failed parse. It matches one of the package
// sentinels with errors.Is and records where in the wrapper chain the
// failure happened.
type ParseError struct {
	// Kind is one of ErrNetwork, ErrMalformedDocument,
	// ErrMissingRequiredField or ErrWrapperDepthExceeded.
	Kind error
	// Depth is the chain position of the failing document, 0 for the root.
	Depth int
	// URL of the failing document; empty for caller-supplied bytes.
	URL string
	// Field names the missing element for ErrMissingRequiredField.
	Field string
	// StatusCode is set when a fetch got a non-2xx response.
	StatusCode int
	// ErrorURLs holds the error templates of the wrappers parsed before the
	// failure so the caller can report it.
	ErrorURLs []string
	// Err is the underlying cause, if any.
	Err error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Field != "" {
		fmt.Fprintf(&b, " %q", e.Field)
	}
	fmt.Fprintf(&b, " at depth %d", e.Depth)
	if e.URL != "" {
		fmt.Fprintf(&b, " (%s)", e.URL)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Code maps the failure to the VAST 2.0 error code a player reports.
func (e *ParseError) Code() int {
	switch {
	case errors.Is(e.Kind, ErrWrapperDepthExceeded):
		return CodeWrapperLimit
	case errors.Is(e.Kind, ErrNetwork):
		return CodeWrapperFetch
	case errors.Is(e.Kind, ErrMalformedDocument):
		return CodeXMLParse
	case errors.Is(e.Kind, ErrMissingRequiredField):
		switch e.Field {
		case "Ad":
			return CodeNoAdResponse
		case "MediaFiles":
			return CodeNoSupportedMedia
		case "VASTAdTagURI":
			return CodeWrapper
		}
	}
	return CodeUndefinedError
}

// ErrorCode returns the VAST error code for any error, using
// CodeUndefinedError when err is not a *ParseError.
func ErrorCode(err error) int {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Code()
	}
	return CodeUndefinedError
}

// KindName returns a short label for a parse failure kind, suitable for
// metrics and JSON responses.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrMalformedDocument):
		return "malformed_document"
	case errors.Is(err, ErrMissingRequiredField):
		return "missing_required_field"
	case errors.Is(err, ErrWrapperDepthExceeded):
		return "wrapper_depth_exceeded"
	}
	return "unknown"
}

// StatusError reports a non-2xx response from a document fetch.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}
