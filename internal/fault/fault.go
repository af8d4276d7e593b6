// Package fault defines the error taxonomy shared by every service in the
// platform core. Callers branch on the category, never on message text:
// malformed input fails before any network call, upstream failures are
// transient and retryable by the caller (never retried here), and not-found
// is distinct from breakage so UIs can render "nothing here".
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Category partitions errors by how the caller should react.
type Category string

const (
	// CategoryMalformed marks input rejected before any network call.
	CategoryMalformed Category = "malformed_input"

	// CategoryVerification marks a signature or record that failed
	// cryptographic checks on a path where a structured result cannot
	// be returned (e.g. attaching a bad signature to a draft).
	CategoryVerification Category = "verification"

	// CategoryUpstream marks chain RPC, indexer, bundler or gateway
	// failures. Transient by nature; retrying is the caller's decision.
	CategoryUpstream Category = "upstream"

	// CategoryNotFound marks an absent agent, association or request.
	CategoryNotFound Category = "not_found"

	// CategoryInternal is the fallback for unclassified errors.
	CategoryInternal Category = "internal"
)

// Fault is an error with an explicit category.
type Fault struct {
	cat Category
	msg string
	err error
}

func (f *Fault) Error() string {
	if f.err != nil {
		return f.msg + ": " + f.err.Error()
	}
	return f.msg
}

func (f *Fault) Unwrap() error { return f.err }

// Category returns the fault's category.
func (f *Fault) Category() Category { return f.cat }

// Malformedf reports input rejected before any network call. The message
// must name the offending field.
func Malformedf(format string, args ...any) error {
	return &Fault{cat: CategoryMalformed, msg: fmt.Sprintf(format, args...)}
}

// Verificationf reports a failed cryptographic check on a hard-rejection path.
func Verificationf(format string, args ...any) error {
	return &Fault{cat: CategoryVerification, msg: fmt.Sprintf(format, args...)}
}

// NotFoundf reports an absent entity.
func NotFoundf(format string, args ...any) error {
	return &Fault{cat: CategoryNotFound, msg: fmt.Sprintf(format, args...)}
}

// Upstream wraps a transport or collaborator failure with call context.
func Upstream(err error, format string, args ...any) error {
	return &Fault{cat: CategoryUpstream, msg: fmt.Sprintf(format, args...), err: err}
}

// IsMalformed reports whether err carries CategoryMalformed.
func IsMalformed(err error) bool { return Classify(err) == CategoryMalformed }

// IsNotFound reports whether err carries CategoryNotFound.
func IsNotFound(err error) bool { return Classify(err) == CategoryNotFound }

// IsUpstream reports whether err carries CategoryUpstream.
func IsUpstream(err error) bool { return Classify(err) == CategoryUpstream }

// jsonRPCCoder is implemented by JSON-RPC error types without importing them.
type jsonRPCCoder interface {
	JSONRPCCode() int
}

// Classify maps an arbitrary error onto a category. Explicitly tagged
// faults win; otherwise transport signatures (net timeouts, JSON-RPC
// server codes, gateway status text) classify as upstream, and anything
// unrecognized is internal.
func Classify(err error) Category {
	if err == nil {
		return ""
	}

	var f *Fault
	if errors.As(err, &f) {
		return f.cat
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryUpstream
	}
	if errors.Is(err, context.Canceled) {
		return CategoryInternal
	}

	var coder jsonRPCCoder
	if errors.As(err, &coder) {
		return classifyJSONRPCCode(coder.JSONRPCCode())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryUpstream
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, upstreamMessageTokens) {
		return CategoryUpstream
	}
	if containsAny(lower, notFoundMessageTokens) {
		return CategoryNotFound
	}

	return CategoryInternal
}

// HTTPStatus maps a classified error to the API status code.
func HTTPStatus(err error) int {
	switch Classify(err) {
	case CategoryMalformed:
		return 400
	case CategoryVerification:
		return 422
	case CategoryNotFound:
		return 404
	case CategoryUpstream:
		return 502
	default:
		return 500
	}
}

func classifyJSONRPCCode(code int) Category {
	// -32603 internal error and the -32000..-32099 server range are
	// node-side conditions; everything else means we built a bad request.
	if code == -32603 || (code <= -32000 && code >= -32099) {
		return CategoryUpstream
	}
	return CategoryInternal
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var upstreamMessageTokens = []string{
	"timeout",
	"timed out",
	"temporar",
	"unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"too many requests",
	"rate limit",
	"http status 429",
	"http status 502",
	"http status 503",
	"http status 504",
	"server closed idle connection",
	"no such host",
}

var notFoundMessageTokens = []string{
	"not found",
	"does not exist",
	"unknown agent",
}
