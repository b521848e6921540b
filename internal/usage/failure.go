package usage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/tidwall/gjson"
)

// FailReason is the closed set of user-facing failure categories.
type FailReason string

const (
	ReasonAuthRequired       FailReason = "auth_required"
	ReasonAuthFailed         FailReason = "auth_failed"
	ReasonForbidden          FailReason = "forbidden"
	ReasonNotFound           FailReason = "not_found"
	ReasonRateLimited        FailReason = "rate_limited"
	ReasonServerError        FailReason = "server_error"
	ReasonHTTPError          FailReason = "http_error"
	ReasonTimeout            FailReason = "timeout"
	ReasonNetworkError       FailReason = "network_error"
	ReasonInvalidCredentials FailReason = "invalid_credentials"
	ReasonUnknownError       FailReason = "unknown_error"
)

const maxAPIMessageLen = 180

// FailureReport describes why a provider fetch failed. Error is always a
// sanitized, user-facing message.
type FailureReport struct {
	Reason     FailReason `json:"fail_reason"`
	Error      string     `json:"error"`
	HTTPCode   *int       `json:"http_code,omitempty"`
	RetryCount *int       `json:"retry_count,omitempty"`
}

// HTTPError carries a non-2xx response. Body is kept for classification
// only and never rendered whole.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// MissingFieldError reports a required credential field that is absent.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing credential field %q", e.Field)
}

// ClassifyHTTP maps a status code and response body to a FailureReport.
func ClassifyHTTP(code int, body []byte) FailureReport {
	reason := ReasonHTTPError
	msg := fmt.Sprintf("HTTP %d", code)

	switch {
	case code == 401:
		reason, msg = ReasonAuthRequired, "Authentication required"
	case code == 403:
		reason, msg = ReasonForbidden, "Permission denied"
	case code == 404:
		reason, msg = ReasonNotFound, "API endpoint not found"
	case code == 429:
		reason, msg = ReasonRateLimited, "Rate limited"
	case code >= 500 && code <= 599:
		reason, msg = ReasonServerError, "Provider service error"
	}

	if apiMsg := extractAPIMessage(body); apiMsg != "" {
		msg = msg + ": " + apiMsg
	}

	return FailureReport{
		Reason:   reason,
		Error:    msg,
		HTTPCode: intPtr(code),
	}
}

// ClassifyTransport maps a non-HTTP failure to a FailureReport. An
// *HTTPError is routed to ClassifyHTTP.
func ClassifyTransport(err error) FailureReport {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return ClassifyHTTP(httpErr.StatusCode, httpErr.Body)
	}

	var missing *MissingFieldError
	if errors.As(err, &missing) {
		return FailureReport{
			Reason: ReasonInvalidCredentials,
			Error:  fmt.Sprintf("Missing credential field: '%s'", missing.Field),
		}
	}

	if isTimeout(err) {
		return FailureReport{Reason: ReasonTimeout, Error: "Request timed out"}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return FailureReport{
			Reason: ReasonNetworkError,
			Error:  "Network error: " + sanitizeMessage(urlErr.Err.Error()),
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureReport{
			Reason: ReasonNetworkError,
			Error:  "Network error: " + sanitizeMessage(netErr.Error()),
		}
	}

	return FailureReport{Reason: ReasonUnknownError, Error: sanitizeMessage(err.Error())}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// extractAPIMessage pulls a short message out of an error body. JSON
// bodies contribute error.message, error.status or message; other bodies
// contribute their first line, truncated.
func extractAPIMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}
	if gjson.Valid(trimmed) {
		parsed := gjson.Parse(trimmed)
		if parsed.IsObject() {
			if errObj := parsed.Get("error"); errObj.IsObject() {
				msg := errObj.Get("message").String()
				if msg == "" {
					msg = errObj.Get("status").String()
				}
				return sanitizeMessage(msg)
			}
			return sanitizeMessage(parsed.Get("message").String())
		}
	}
	firstLine, _, _ := strings.Cut(trimmed, "\n")
	return truncateRunes(sanitizeMessage(firstLine), maxAPIMessageLen)
}

// sanitizeMessage strips terminal escape sequences and surrounding space.
func sanitizeMessage(s string) string {
	return strings.TrimSpace(ansi.Strip(s))
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
