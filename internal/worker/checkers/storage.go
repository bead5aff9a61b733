package checkers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"cloud-inspection-service/internal/classify"
	"cloud-inspection-service/internal/vault"
)

// StorageChecker inspects S3. health_check probes a single bucket named in
// the task config; resource_list enumerates the account's buckets.
type StorageChecker struct{}

func (c *StorageChecker) Category() string { return CategoryStorage }

func (c *StorageChecker) Execute(ctx context.Context, secret vault.SecretMaterial, operation string, config map[string]interface{}) (json.RawMessage, error) {
	cfg, err := awsConfig(ctx, secret)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg)

	switch operation {
	case OpHealthCheck:
		bucket, err := requireConfigString(config, "bucket")
		if err != nil {
			return nil, err
		}
		if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
			return nil, classify.Remote(err)
		}
		return marshalResult(map[string]interface{}{
			"bucket":     bucket,
			"reachable":  true,
			"checked_at": time.Now().UTC(),
		})

	case OpResourceList:
		out, err := client.ListBuckets(ctx, &s3.ListBucketsInput{})
		if err != nil {
			return nil, classify.Remote(err)
		}
		buckets := make([]map[string]interface{}, 0, len(out.Buckets))
		for _, b := range out.Buckets {
			entry := map[string]interface{}{"name": aws.ToString(b.Name)}
			if b.CreationDate != nil {
				entry["created_at"] = b.CreationDate.UTC()
			}
			buckets = append(buckets, entry)
		}
		return marshalResult(map[string]interface{}{
			"count":   len(buckets),
			"buckets": buckets,
		})

	default:
		return nil, unsupportedOperation(CategoryStorage, operation)
	}
}
