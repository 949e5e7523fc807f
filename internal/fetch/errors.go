// Package fetch provides the upstream call machinery shared by every data
// source: endpoint pools, classified errors, per-call timeouts, fallback
// retries across endpoints, and a typed concurrent join.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies an upstream failure.
type Kind int

const (
	// KindUnknown is an unclassified failure. It is retried like a network error.
	KindUnknown Kind = iota
	// KindInvalidInput is a malformed address or missing identifier.
	KindInvalidInput
	// KindNotFound means the queried entity does not exist on the ledger.
	KindNotFound
	// KindCanceled means the caller gave up waiting.
	KindCanceled
	// KindNetwork is a connection or transport failure.
	KindNetwork
	// KindTimeout is a per-call deadline expiry.
	KindTimeout
	// KindRateLimited is an upstream throttling signal.
	KindRateLimited
	// KindUnavailable is a temporary upstream outage (5xx, node behind).
	KindUnavailable
	// KindDataGap is a known historical-data-missing condition (skipped slot).
	KindDataGap
)

var kindNames = map[Kind]string{
	KindUnknown:      "unknown",
	KindInvalidInput: "invalid_input",
	KindNotFound:     "not_found",
	KindCanceled:     "canceled",
	KindNetwork:      "network",
	KindTimeout:      "timeout",
	KindRateLimited:  "rate_limited",
	KindUnavailable:  "unavailable",
	KindDataGap:      "data_gap",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Terminal reports whether a failure of this kind must not be retried
// against another endpoint.
func (k Kind) Terminal() bool {
	switch k {
	case KindInvalidInput, KindNotFound, KindCanceled:
		return true
	default:
		return false
	}
}

// Error is an upstream failure tagged with its kind where it was first detected.
type Error struct {
	Kind     Kind
	Op       string
	Endpoint string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
	}
	if e.Endpoint != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("(" + e.Endpoint + ")")
	}
	msg := e.Kind.String()
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if b.Len() == 0 {
		return msg
	}
	return b.String() + ": " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the given kind wrapping err.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf returns an error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err. The outermost tagged error wins.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch v := e.(type) {
		case *Error:
			return v.Kind
		case *ExhaustedError:
			return v.Kind()
		}
	}

	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	return KindUnknown
}

// IsTerminal reports whether err must not be retried.
func IsTerminal(err error) bool {
	return err != nil && KindOf(err).Terminal()
}

// Tag attaches a kind to an untyped error, falling back to Classify on its
// text. Errors that already carry a kind are returned unchanged.
func Tag(op string, err error) error {
	if err == nil {
		return nil
	}
	if kind := KindOf(err); kind != KindUnknown {
		var fe *Error
		var ex *ExhaustedError
		if errors.As(err, &fe) || errors.As(err, &ex) {
			return err
		}
		return &Error{Kind: kind, Op: op, Err: err}
	}
	return &Error{Kind: Classify(err.Error()), Op: op, Err: err}
}

// Classify maps upstream error text to a kind. It is only used for errors
// surfaced by libraries that expose nothing but a message.
func Classify(msg string) Kind {
	m := strings.ToLower(msg)
	switch {
	case containsAny(m, "429", "too many requests", "rate limit", "rate-limit", "ratelimit"):
		return KindRateLimited
	case containsAny(m, "slot was skipped", "was skipped", "missing in long-term storage", "block not available"):
		return KindDataGap
	case containsAny(m, "invalid param", "invalid public key", "invalid address", "wrongsize", "invalid base58"):
		return KindInvalidInput
	case containsAny(m, "could not find account", "account not found", "account does not exist"):
		return KindNotFound
	case containsAny(m, "timeout", "timed out", "deadline exceeded"):
		return KindTimeout
	case containsAny(m, "temporarily unavailable", "service unavailable", "bad gateway", "502", "503", "504", "node is behind"):
		return KindUnavailable
	case containsAny(m, "connection refused", "connection reset", "no such host", "eof", "broken pipe", "fetch failed", "network"):
		return KindNetwork
	default:
		return KindUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// User-facing messages for retry-later classes.
const (
	MsgRateLimited = "The network is busy right now. Please try again shortly."
	MsgUnreachable = "Unable to reach the network. Please try again shortly."
	MsgDataGap     = "Historical data is temporarily unavailable. Please try again shortly."
)

// UserMessage returns a human-readable message for err. Transport and
// throttling failures are replaced by a generic retry-later text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindRateLimited:
		return MsgRateLimited
	case KindNetwork, KindTimeout, KindUnavailable, KindUnknown:
		return MsgUnreachable
	case KindDataGap:
		return MsgDataGap
	default:
		return rootMessage(err)
	}
}

// rootMessage returns the message of the innermost tagged error cause.
func rootMessage(err error) string {
	msg := err.Error()
	for e := err; e != nil; e = errors.Unwrap(e) {
		if fe, ok := e.(*Error); ok && fe.Err != nil {
			msg = fe.Err.Error()
		}
	}
	return msg
}
