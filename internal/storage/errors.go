package storage

import (
	"errors"
	"fmt"
	"net/http"

	smithy "github.com/aws/smithy-go"
	"google.golang.org/api/googleapi"

	"github.com/imedwei/offsite-vault/internal/signer"
	"github.com/imedwei/offsite-vault/internal/transport"
)

// maxBodyFragment bounds the response body quoted in HTTPStatusError.
const maxBodyFragment = 256

// HTTPStatusError reports a response outside 200-299.
type HTTPStatusError struct {
	Method     string
	Key        string
	StatusCode int
	Code       string // provider error code, when the body carries one
	Message    string
}

func (e *HTTPStatusError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s returned HTTP %d: %s", e.Method, e.Key, e.StatusCode, msg)
}

// ProtocolError reports a response body that could not be parsed.
type ProtocolError struct {
	Operation string
	Err       error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected %s response: %v", e.Operation, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is an HTTP 404.
func IsNotFound(err error) bool {
	var se *HTTPStatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// IsRetryable reports whether an operation failing with err may succeed when
// repeated: network failures, throttling and server errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var cfgErr *signer.ConfigurationError
	if errors.As(err, &cfgErr) {
		return false
	}

	var pe *ProtocolError
	if errors.As(err, &pe) {
		return false
	}

	if status, ok := httpStatusCode(err); ok {
		return retryableStatus(status)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "Throttling", "ThrottlingException", "RequestTimeout", "InternalError", "ServiceUnavailable":
			return true
		}
		return false
	}

	return transport.IsTransportError(err)
}

// httpStatusCode extracts the response status from our own errors and from
// the AWS SDK and GCS client errors.
func httpStatusCode(err error) (int, bool) {
	var se *HTTPStatusError
	if errors.As(err, &se) {
		return se.StatusCode, true
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return ge.Code, true
	}
	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		return statusErr.HTTPStatusCode(), true
	}
	return 0, false
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusRequestTimeout:
		return true
	}
	return status >= http.StatusInternalServerError
}

// bodyFragment returns at most maxBodyFragment bytes of body.
func bodyFragment(body []byte) string {
	if len(body) > maxBodyFragment {
		return string(body[:maxBodyFragment]) + "..."
	}
	return string(body)
}
