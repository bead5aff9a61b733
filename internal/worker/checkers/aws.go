package checkers

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"cloud-inspection-service/internal/classify"
	"cloud-inspection-service/internal/vault"
)

const defaultRegion = "us-east-1"

// awsConfig builds an SDK config scoped to one execution. The static
// credentials provider holds the secret material only for the duration of
// the checker call; nothing is written to shared credential state.
func awsConfig(ctx context.Context, secret vault.SecretMaterial) (aws.Config, error) {
	region := secret.Region
	if region == "" {
		region = defaultRegion
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if secret.AccessKeyID != "" && secret.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				secret.AccessKeyID, secret.SecretAccessKey, secret.SessionToken)))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, classify.Wrap(classify.Authentication, err)
	}
	return cfg, nil
}

// configString reads an optional string key from the opaque task config.
func configString(config map[string]interface{}, key string) string {
	if config == nil {
		return ""
	}
	if v, ok := config[key].(string); ok {
		return v
	}
	return ""
}

// requireConfigString reads a mandatory string key; a missing or mistyped
// value is a ConfigurationError rejected before any remote call.
func requireConfigString(config map[string]interface{}, key string) (string, error) {
	v := configString(config, key)
	if v == "" {
		return "", classify.Errorf(classify.Configuration, "task configuration is missing required key %q", key)
	}
	return v, nil
}
