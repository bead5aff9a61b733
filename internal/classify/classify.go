// Package classify defines the closed error taxonomy attached to failed
// executions. The classification is the stable contract the tenant-facing
// layer depends on; the raw detail is persisted alongside it for operator
// diagnosis. Every failure is terminal for its execution.
package classify

import (
	"context"
	"errors"
	"fmt"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
)

// Classification is the closed set of failure categories.
type Classification string

const (
	Authentication Classification = "AuthenticationError" // credential invalid, expired or missing
	Permission     Classification = "PermissionError"     // credential valid but not authorized
	ServiceLimit   Classification = "ServiceLimitError"   // throttling, quota or timeout
	Service        Classification = "ServiceError"        // any other remote-side failure
	Concurrency    Classification = "ConcurrencyConflict" // lease already held
	Configuration  Classification = "ConfigurationError"  // malformed task configuration
)

// Classified wraps a failure cause with its classification.
type Classified struct {
	Class Classification
	Err   error
}

func (c *Classified) Error() string {
	return fmt.Sprintf("%s: %v", c.Class, c.Err)
}

func (c *Classified) Unwrap() error { return c.Err }

// Wrap attaches a classification to err.
func Wrap(class Classification, err error) error {
	return &Classified{Class: class, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(class Classification, format string, args ...interface{}) error {
	return &Classified{Class: class, Err: fmt.Errorf(format, args...)}
}

// Of extracts the classification from err. Anything not carrying an explicit
// classification is generalized to ServiceError, never discarded.
func Of(err error) Classification {
	var cls *Classified
	if errors.As(err, &cls) {
		return cls.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ServiceLimit
	}
	return Service
}

// codeClass maps a known AWS error code onto the taxonomy.
func codeClass(code string) (Classification, bool) {
	switch code {
	case "AuthFailure", "ExpiredToken", "ExpiredTokenException",
		"InvalidAccessKeyId", "InvalidClientTokenId", "SignatureDoesNotMatch",
		"TokenRefreshRequired", "UnrecognizedClientException":
		return Authentication, true
	case "AccessDenied", "AccessDeniedException", "OptInRequired",
		"UnauthorizedOperation":
		return Permission, true
	case "LimitExceededException", "RequestLimitExceeded", "RequestThrottled",
		"RequestThrottledException", "SlowDown", "Throttling",
		"ThrottlingException", "TooManyRequestsException":
		return ServiceLimit, true
	}
	return "", false
}

// Remote translates a raw remote-call failure into a classified error. Known
// AWS error codes and HTTP statuses map onto the taxonomy; anything else is a
// ServiceError. A context deadline expiring on the call is a ServiceLimitError.
func Remote(err error) error {
	if err == nil {
		return nil
	}
	var cls *Classified
	if errors.As(err, &cls) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(ServiceLimit, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if class, ok := codeClass(apiErr.ErrorCode()); ok {
			return Wrap(class, err)
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case 401:
			return Wrap(Authentication, err)
		case 403:
			return Wrap(Permission, err)
		case 429, 503:
			return Wrap(ServiceLimit, err)
		}
	}
	return Wrap(Service, err)
}
