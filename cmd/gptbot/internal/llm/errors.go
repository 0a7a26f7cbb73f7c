// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package llm

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
)

// Kind classifies upstream failures.
type Kind int

const (
	Other Kind = iota
	QuotaExceeded
	ContextTooLong
	RateLimited
)

func (k Kind) String() string {
	switch k {
	case QuotaExceeded:
		return "quota_exceeded"
	case ContextTooLong:
		return "context_too_long"
	case RateLimited:
		return "rate_limited"
	default:
		return "other"
	}
}

// UpstreamError is a classified error of a provider API.
type UpstreamError struct {
	Kind Kind
	// Message is the error text of the provider.
	Message string
	Err     error
}

func (e *UpstreamError) Error() string { return e.Message }
func (e *UpstreamError) Unwrap() error { return e.Err }

// UserVisible reports whether Message should be shown to the user as is.
func (e *UpstreamError) UserVisible() bool {
	return e.Kind == QuotaExceeded || e.Kind == ContextTooLong
}

// Classify turns provider errors into an *UpstreamError. Errors it doesn't
// recognize, and nil, are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return err
	}

	var (
		apiErr *openai.APIError
		reqErr *openai.RequestError
		gErr   *googleapi.Error
	)
	switch {
	case errors.As(err, &apiErr):
		code, _ := apiErr.Code.(string)
		return &UpstreamError{
			Kind:    classify(apiErr.HTTPStatusCode, code+" "+apiErr.Type, apiErr.Message),
			Message: apiErr.Message,
			Err:     err,
		}
	case errors.As(err, &reqErr):
		msg := strings.TrimSpace(string(reqErr.Body))
		if msg == "" {
			msg = reqErr.Error()
		}
		return &UpstreamError{
			Kind:    classify(reqErr.HTTPStatusCode, "", msg),
			Message: msg,
			Err:     err,
		}
	case errors.As(err, &gErr):
		msg := gErr.Message
		if msg == "" {
			msg = gErr.Error()
		}
		return &UpstreamError{
			Kind:    classify(gErr.Code, "", msg),
			Message: msg,
			Err:     err,
		}
	}
	return err
}

func classify(status int, code, msg string) Kind {
	lmsg := strings.ToLower(msg)
	switch {
	case strings.Contains(code, "insufficient_quota"),
		strings.Contains(code, "billing_hard_limit_reached"):
		return QuotaExceeded
	case strings.Contains(code, "context_length_exceeded"),
		strings.Contains(code, "string_above_max_length"),
		strings.Contains(lmsg, "maximum context length"),
		strings.Contains(lmsg, "exceeds the maximum number of tokens"):
		return ContextTooLong
	case status == http.StatusTooManyRequests && strings.Contains(lmsg, "quota"):
		return QuotaExceeded
	case status == http.StatusTooManyRequests:
		return RateLimited
	}
	return Other
}
