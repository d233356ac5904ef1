// Package errs provides the structured error envelope shared by the gateway components.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies an error category.
type Code string

const (
	// CodeConfig indicates invalid or missing configuration detected at startup.
	CodeConfig Code = "config"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeNetwork indicates a ledger or archive transport failure after retries.
	CodeNetwork Code = "network"
	// CodeDecode indicates on-chain bytes that do not match the expected layout.
	CodeDecode Code = "decode"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeUnsupported indicates a requested operation the venue path does not implement.
	CodeUnsupported Code = "unsupported"
	// CodeDegraded indicates a partial result produced while a dependency was unavailable.
	CodeDegraded Code = "degraded"
	// CodeRateLimited indicates that the request exceeded rate limits.
	CodeRateLimited Code = "rate_limited"
	// CodeSubmission indicates the submission collaborator rejected a request.
	CodeSubmission Code = "submission"
)

// CanonicalCode captures component-agnostic error categories.
type CanonicalCode string

const (
	// CanonicalUnknown captures uncategorized failures.
	CanonicalUnknown CanonicalCode = "unknown"
	// CanonicalCapabilityMissing indicates the requested capability is not implemented.
	CanonicalCapabilityMissing CanonicalCode = "capability_missing"
	// CanonicalOrderNotFound indicates that the referenced order does not exist.
	CanonicalOrderNotFound CanonicalCode = "order_not_found"
	// CanonicalInvalidSymbol indicates an unknown or malformed market name.
	CanonicalInvalidSymbol CanonicalCode = "invalid_symbol"
	// CanonicalAccountAbsent indicates that a requested on-chain account does not exist.
	CanonicalAccountAbsent CanonicalCode = "account_absent"
	// CanonicalRateLimited indicates a transport failure caused by upstream throttling.
	CanonicalRateLimited CanonicalCode = "rate_limited"
)

// E captures structured error information produced across the gateway.
type E struct {
	Component string
	Code      Code
	HTTP      int
	RawCode   string
	RawMsg    string
	Message   string
	Canonical CanonicalCode
	Metadata  map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component: strings.TrimSpace(component),
		Code:      code,
		Canonical: CanonicalUnknown,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the associated upstream HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawCode captures the raw upstream error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw upstream error message.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithCanonicalCode sets the canonical error code describing the failure category.
func WithCanonicalCode(code CanonicalCode) Option {
	trimmed := strings.TrimSpace(string(code))
	return func(e *E) {
		if trimmed == "" {
			e.Canonical = CanonicalUnknown
			return
		}
		e.Canonical = CanonicalCode(trimmed)
	}
}

// WithField appends a single metadata key/value pair.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string]string, 1)
		}
		e.Metadata[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if cc := strings.TrimSpace(string(e.Canonical)); cc != "" && cc != string(CanonicalUnknown) {
		parts = append(parts, "canonical="+cc)
	}
	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if len(e.Metadata) > 0 {
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Metadata[k]))
		}
		parts = append(parts, "meta="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf returns the code of the first envelope in err's chain, or "" when none exists.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// CanonicalOf returns the canonical code of the first envelope in err's chain,
// or "" when none exists.
func CanonicalOf(err error) CanonicalCode {
	var e *E
	if errors.As(err, &e) {
		return e.Canonical
	}
	return ""
}

// IsCode reports whether err carries an envelope with the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Config returns a configuration error.
func Config(msg string, opts ...Option) *E {
	return New("config", CodeConfig, append([]Option{WithMessage(msg)}, opts...)...)
}

// Transport returns a transport error for the named component.
func Transport(component string, cause error, opts ...Option) *E {
	return New(component, CodeNetwork, append([]Option{WithCause(cause)}, opts...)...)
}

// Decode returns a layout mismatch error for the named component.
func Decode(component, msg string, opts ...Option) *E {
	return New(component, CodeDecode, append([]Option{WithMessage(msg)}, opts...)...)
}

// OrderNotFound returns the standard error for an order lookup with zero matches.
func OrderNotFound(msg string) *E {
	return New("orders", CodeNotFound, WithMessage(msg), WithCanonicalCode(CanonicalOrderNotFound))
}

// NotSupported returns a standardized error for unsupported capabilities.
func NotSupported(msg string) *E {
	return New("", CodeUnsupported, WithMessage(strings.TrimSpace(msg)), WithCanonicalCode(CanonicalCapabilityMissing))
}
