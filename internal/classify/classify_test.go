package classify

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

func TestRemote_AWSErrorCodes(t *testing.T) {
	cases := []struct {
		code string
		want Classification
	}{
		{"InvalidClientTokenId", Authentication},
		{"AuthFailure", Authentication},
		{"ExpiredTokenException", Authentication},
		{"SignatureDoesNotMatch", Authentication},
		{"AccessDenied", Permission},
		{"AccessDeniedException", Permission},
		{"UnauthorizedOperation", Permission},
		{"Throttling", ServiceLimit},
		{"ThrottlingException", ServiceLimit},
		{"RequestLimitExceeded", ServiceLimit},
		{"SlowDown", ServiceLimit},
		{"InternalError", Service},
		{"SomeUnknownCode", Service},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			raw := &smithy.GenericAPIError{Code: tc.code, Message: "remote failure"}
			classified := Remote(raw)
			assert.Equal(t, tc.want, Of(classified))
			// the raw cause stays reachable for operator diagnosis
			var apiErr smithy.APIError
			assert.True(t, errors.As(classified, &apiErr))
		})
	}
}

func TestRemote_DeadlineIsServiceLimit(t *testing.T) {
	err := Remote(fmt.Errorf("calling remote service: %w", context.DeadlineExceeded))
	assert.Equal(t, ServiceLimit, Of(err))
}

func TestRemote_PreservesExistingClassification(t *testing.T) {
	original := Errorf(Configuration, "missing key %q", "bucket")
	assert.Equal(t, original, Remote(original))
	assert.Equal(t, Configuration, Of(original))
}

func TestRemote_NilStaysNil(t *testing.T) {
	assert.NoError(t, Remote(nil))
}

func TestOf_UnclassifiedGeneralizesToServiceError(t *testing.T) {
	assert.Equal(t, Service, Of(errors.New("something odd")))
}

func TestClassifiedErrorString(t *testing.T) {
	err := Wrap(Authentication, errors.New("credential decryption failed"))
	assert.Equal(t, "AuthenticationError: credential decryption failed", err.Error())
	assert.ErrorContains(t, err, "decryption")

	var cls *Classified
	assert.True(t, errors.As(err, &cls))
	assert.Equal(t, Authentication, cls.Class)
}
