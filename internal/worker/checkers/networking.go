package checkers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"

	"cloud-inspection-service/internal/classify"
	"cloud-inspection-service/internal/vault"
)

// NetworkingChecker inspects VPC topology via the EC2 API.
type NetworkingChecker struct{}

func (c *NetworkingChecker) Category() string { return CategoryNetworking }

type vpcSummary struct {
	VpcID     string `json:"vpc_id"`
	CidrBlock string `json:"cidr_block"`
	State     string `json:"state"`
	IsDefault bool   `json:"is_default"`
}

func (c *NetworkingChecker) Execute(ctx context.Context, secret vault.SecretMaterial, operation string, config map[string]interface{}) (json.RawMessage, error) {
	cfg, err := awsConfig(ctx, secret)
	if err != nil {
		return nil, err
	}
	client := ec2.NewFromConfig(cfg)

	switch operation {
	case OpHealthCheck, OpResourceList:
		out, err := client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{})
		if err != nil {
			return nil, classify.Remote(err)
		}
		vpcs := make([]vpcSummary, 0, len(out.Vpcs))
		pending := 0
		for _, vpc := range out.Vpcs {
			summary := vpcSummary{
				VpcID:     aws.ToString(vpc.VpcId),
				CidrBlock: aws.ToString(vpc.CidrBlock),
				State:     string(vpc.State),
				IsDefault: aws.ToBool(vpc.IsDefault),
			}
			if summary.State != "available" {
				pending++
			}
			vpcs = append(vpcs, summary)
		}
		result := map[string]interface{}{
			"count": len(vpcs),
			"vpcs":  vpcs,
		}
		if operation == OpHealthCheck {
			result["not_available"] = pending
			result["checked_at"] = time.Now().UTC()
		}
		return marshalResult(result)

	default:
		return nil, unsupportedOperation(CategoryNetworking, operation)
	}
}
