package gengateway

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	ErrInvalidRequest      = errors.New("gengateway: invalid request")
	ErrQuotaExhausted      = errors.New("gengateway: provider quota exhausted")
	ErrRateLimited         = errors.New("gengateway: rate limited by provider")
	ErrProviderUnavailable = errors.New("gengateway: provider unavailable")
	ErrAuthFailed          = errors.New("gengateway: authentication failed")
	ErrMalformedResponse   = errors.New("gengateway: malformed provider response")
	ErrEmptyResponse       = errors.New("gengateway: empty provider response")
	ErrTransport           = errors.New("gengateway: transport error")
	ErrUpstream            = errors.New("gengateway: upstream error")
	ErrNoRoute             = errors.New("gengateway: no route for content kind")
	ErrAllFailed           = errors.New("gengateway: all attempts failed")
)

// ErrorClass is the coarse failure category that drives gateway policy.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	ClassQuotaExhausted
	ClassRateLimited
	ClassProviderUnavailable
	ClassMalformedResponse
	ClassUnknown
)

// Diagnostic codes reported on fallback results.
const (
	DiagQuotaExhausted      = "quota_exhausted"
	DiagRateLimited         = "rate_limited"
	DiagProviderUnavailable = "provider_unavailable"
	DiagMalformedResponse   = "malformed_response"
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassQuotaExhausted:
		return DiagQuotaExhausted
	case ClassRateLimited:
		return DiagRateLimited
	case ClassProviderUnavailable:
		return DiagProviderUnavailable
	case ClassMalformedResponse:
		return DiagMalformedResponse
	default:
		return "unknown"
	}
}

// Classify maps an error onto its ErrorClass.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrQuotaExhausted):
		return ClassQuotaExhausted
	case errors.Is(err, ErrRateLimited):
		return ClassRateLimited
	case errors.Is(err, ErrProviderUnavailable), errors.Is(err, ErrAuthFailed), errors.Is(err, ErrNoRoute):
		return ClassProviderUnavailable
	case errors.Is(err, ErrMalformedResponse):
		return ClassMalformedResponse
	default:
		return ClassUnknown
	}
}

// Diagnostic returns the diagnostic string reported for err on a fallback result.
// Unclassified errors report their own message.
func Diagnostic(err error) string {
	if err == nil {
		return ""
	}
	if c := Classify(err); c != ClassUnknown {
		return c.String()
	}
	return err.Error()
}

// IsFatal returns true if the error should stop the attempt loop without
// trying another model or temperature.
func IsFatal(err error) bool {
	return errors.Is(err, ErrQuotaExhausted) ||
		errors.Is(err, ErrAuthFailed) ||
		errors.Is(err, ErrInvalidRequest)
}

// quotaMarkers identify a 429 that means the quota is gone rather than a burst limit.
var quotaMarkers = []string{"Quota exceeded", "RESOURCE_EXHAUSTED", "quota exceeded", "insufficient_quota"}

// ErrorFromStatus maps a non-2xx provider status and (truncated) body onto a sentinel.
func ErrorFromStatus(status int, body string) error {
	switch {
	case status == 429:
		for _, m := range quotaMarkers {
			if strings.Contains(body, m) {
				return fmt.Errorf("%w: %s", ErrQuotaExhausted, body)
			}
		}
		return fmt.Errorf("%w: %s", ErrRateLimited, body)
	case status == 401 || status == 403:
		return fmt.Errorf("%w: status %d", ErrAuthFailed, status)
	case status == 400:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, body)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrUpstream, status, body)
	}
}

// AttemptError wraps the last provider error with attempt context.
type AttemptError struct {
	Err      error
	Provider string
	Model    string
	Attempts int
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("gengateway: provider=%s model=%s attempts=%d: %v",
		e.Provider, e.Model, e.Attempts, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}
