// Package failure classifies errors raised by the publishing pipeline so the
// dispatcher can decide retryability without string matching.
package failure

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

type Kind int

const (
	KindTransient Kind = iota
	KindPermanent
	KindValidation
	KindAuth
	KindRateLimit
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate_limit"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is the classified error returned by adapters, the upload state
// machine and the token manager. The dispatcher only looks at Kind.
type Error struct {
	Platform   string
	Op         string
	Kind       Kind
	StatusCode int
	Message    string
	ResetAt    time.Time
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Platform != "" {
		b.WriteString(e.Platform)
		b.WriteString(": ")
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the queue should attempt the job again.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransient, KindRateLimit, KindTimeout:
		return true
	}
	return false
}

func Transient(platform, op string, err error) *Error {
	return &Error{Platform: platform, Op: op, Kind: KindTransient, Message: "request failed", Err: err}
}

func Permanent(platform, op, msg string) *Error {
	return &Error{Platform: platform, Op: op, Kind: KindPermanent, Message: msg}
}

func Validation(platform, msg string) *Error {
	return &Error{Platform: platform, Op: "validate", Kind: KindValidation, Message: msg}
}

func Auth(platform, op string, err error) *Error {
	return &Error{Platform: platform, Op: op, Kind: KindAuth, Message: "authorization rejected", Err: err}
}

// KindOf returns the kind of a classified error. Unclassified errors are
// treated as transient so that unknown failures get the retry budget.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return true
}

func IsAuth(err error) bool {
	return err != nil && KindOf(err) == KindAuth
}

// ResetAt returns the rate-limit reset time carried by err, if any.
func ResetAt(err error) (time.Time, bool) {
	var pe *Error
	if errors.As(err, &pe) && pe.Kind == KindRateLimit && !pe.ResetAt.IsZero() {
		return pe.ResetAt, true
	}
	return time.Time{}, false
}

// FromResponse classifies a non-2xx platform response.
func FromResponse(platform, op string, resp *http.Response, body []byte) *Error {
	e := &Error{
		Platform:   platform,
		Op:         op,
		StatusCode: resp.StatusCode,
		Message:    summarizeBody(body),
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		e.Kind = KindAuth
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = KindRateLimit
		e.ResetAt = rateLimitReset(resp.Header, time.Now())
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		e.Kind = KindTransient
	default:
		e.Kind = KindPermanent
	}
	return e
}

func rateLimitReset(h http.Header, now time.Time) time.Time {
	if v := h.Get("x-rate-limit-reset"); v != "" {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(sec, 0)
		}
	}
	if v := h.Get("Retry-After"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			return now.Add(time.Duration(sec) * time.Second)
		}
		if t, err := http.ParseTime(v); err == nil {
			return t
		}
	}
	return time.Time{}
}

const maxBodySummary = 300

func summarizeBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return "unexpected response"
	}
	if len(s) > maxBodySummary {
		i := maxBodySummary
		for i > 0 && !utf8.RuneStart(s[i]) {
			i--
		}
		s = s[:i] + "..."
	}
	return s
}
