package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"

	"github.com/imedwei/offsite-vault/internal/signer"
)

// s3ResponseError builds the error chain the AWS SDK returns for a failed
// S3 operation.
func s3ResponseError(status int, code string) error {
	return &smithy.OperationError{
		ServiceID:     "S3",
		OperationName: "PutObject",
		Err: &awshttp.ResponseError{
			ResponseError: &smithyhttp.ResponseError{
				Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
				Err:      &smithy.GenericAPIError{Code: code, Message: "simulated"},
			},
			RequestID: "req-1",
		},
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "transport failure", err: errNetwork, want: true},
		{name: "object store 503", err: &HTTPStatusError{StatusCode: http.StatusServiceUnavailable}, want: true},
		{name: "object store 429", err: &HTTPStatusError{StatusCode: http.StatusTooManyRequests}, want: true},
		{name: "object store 403", err: &HTTPStatusError{StatusCode: http.StatusForbidden}, want: false},
		{name: "configuration error", err: &signer.ConfigurationError{Field: "bucket"}, want: false},
		{name: "protocol error", err: &ProtocolError{Operation: "list", Err: errors.New("bad xml")}, want: false},
		{name: "s3 sdk 503", err: s3ResponseError(http.StatusServiceUnavailable, "SlowDown"), want: true},
		{name: "s3 sdk 500", err: s3ResponseError(http.StatusInternalServerError, "InternalError"), want: true},
		{name: "s3 sdk 403", err: s3ResponseError(http.StatusForbidden, "AccessDenied"), want: false},
		{name: "s3 sdk 404", err: s3ResponseError(http.StatusNotFound, "NoSuchKey"), want: false},
		{name: "s3 throttling code only", err: &smithy.GenericAPIError{Code: "SlowDown"}, want: true},
		{name: "s3 access denied code only", err: &smithy.GenericAPIError{Code: "AccessDenied"}, want: false},
		{name: "gcs 503", err: &googleapi.Error{Code: http.StatusServiceUnavailable}, want: true},
		{name: "gcs 429 wrapped", err: fmt.Errorf("failed to upload: %w", &googleapi.Error{Code: http.StatusTooManyRequests}), want: true},
		{name: "gcs 404", err: &googleapi.Error{Code: http.StatusNotFound}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestRetryableStorage_RetriesSDKErrors(t *testing.T) {
	mock := &mockStorage{putErrs: []error{
		s3ResponseError(http.StatusServiceUnavailable, "SlowDown"),
		&googleapi.Error{Code: http.StatusBadGateway},
	}}
	r := NewRetryableStorage(mock, fastRetry(3), nil)

	assert.NoError(t, r.Put(context.Background(), "a.zip", []byte("x"), nil))
	assert.Equal(t, 3, mock.putCalls)
}
