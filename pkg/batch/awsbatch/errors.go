package awsbatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/3leaps/batchfan/pkg/batch"
)

// wrapError converts AWS errors into *batch.Error values carrying the
// matching sentinel.
func wrapError(op, queue, jobID string, err error) error {
	wrapped := &batch.Error{Op: op, Queue: queue, JobID: jobID, Err: err}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch code {
		case "ResourceNotFoundException", "NotFound":
			wrapped.Err = join(batch.ErrNotFound, err)
		case "AccessDeniedException", "AccessDenied", "UnauthorizedOperation":
			wrapped.Err = join(batch.ErrAccessDenied, err)
		case "UnrecognizedClientException", "InvalidClientTokenId", "ExpiredTokenException", "InvalidSignatureException":
			wrapped.Err = join(batch.ErrInvalidCredentials, err)
		case "ThrottlingException", "TooManyRequestsException", "RequestLimitExceeded", "Throttling":
			wrapped.Err = join(batch.ErrThrottled, err)
		case "ServerException", "ServiceUnavailableException", "InternalFailure":
			wrapped.Err = join(batch.ErrServiceUnavailable, err)
		case "ClientException", "InvalidParameterException", "ValidationException":
			wrapped.Err = join(batch.ErrInvalidRequest, err)
		}
		return wrapped
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "StatusCode: 404"):
		wrapped.Err = join(batch.ErrNotFound, err)
	case strings.Contains(msg, "StatusCode: 403"):
		wrapped.Err = join(batch.ErrAccessDenied, err)
	case strings.Contains(msg, "StatusCode: 429"):
		wrapped.Err = join(batch.ErrThrottled, err)
	}
	return wrapped
}

// join keeps the service message visible while matching the sentinel.
func join(sentinel, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}
