package checkers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"

	"cloud-inspection-service/internal/classify"
	"cloud-inspection-service/internal/vault"
)

// DatabaseChecker inspects RDS. An optional "engine" key in the task config
// narrows both operations to one database engine.
type DatabaseChecker struct{}

func (c *DatabaseChecker) Category() string { return CategoryDatabase }

type dbInstanceSummary struct {
	Identifier string `json:"identifier"`
	Engine     string `json:"engine"`
	Class      string `json:"class"`
	Status     string `json:"status"`
}

func (c *DatabaseChecker) Execute(ctx context.Context, secret vault.SecretMaterial, operation string, config map[string]interface{}) (json.RawMessage, error) {
	cfg, err := awsConfig(ctx, secret)
	if err != nil {
		return nil, err
	}
	client := rds.NewFromConfig(cfg)

	switch operation {
	case OpHealthCheck, OpResourceList:
		out, err := client.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{})
		if err != nil {
			return nil, classify.Remote(err)
		}
		engineFilter := configString(config, "engine")
		var instances []dbInstanceSummary
		unavailable := 0
		for _, inst := range out.DBInstances {
			engine := aws.ToString(inst.Engine)
			if engineFilter != "" && engine != engineFilter {
				continue
			}
			summary := dbInstanceSummary{
				Identifier: aws.ToString(inst.DBInstanceIdentifier),
				Engine:     engine,
				Class:      aws.ToString(inst.DBInstanceClass),
				Status:     aws.ToString(inst.DBInstanceStatus),
			}
			if summary.Status != "available" {
				unavailable++
			}
			instances = append(instances, summary)
		}
		result := map[string]interface{}{
			"count":     len(instances),
			"instances": instances,
		}
		if operation == OpHealthCheck {
			result["unavailable"] = unavailable
			result["checked_at"] = time.Now().UTC()
		}
		return marshalResult(result)

	default:
		return nil, unsupportedOperation(CategoryDatabase, operation)
	}
}
