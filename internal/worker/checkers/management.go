package checkers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"cloud-inspection-service/internal/classify"
	"cloud-inspection-service/internal/vault"
)

// ManagementChecker inspects the management plane. health_check reads
// CloudWatch alarm states; resource_list enumerates CloudFormation stacks.
type ManagementChecker struct{}

func (c *ManagementChecker) Category() string { return CategoryManagement }

type alarmSummary struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Metric string `json:"metric"`
}

type stackSummary struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

func (c *ManagementChecker) Execute(ctx context.Context, secret vault.SecretMaterial, operation string, config map[string]interface{}) (json.RawMessage, error) {
	cfg, err := awsConfig(ctx, secret)
	if err != nil {
		return nil, err
	}

	switch operation {
	case OpHealthCheck:
		out, err := cloudwatch.NewFromConfig(cfg).DescribeAlarms(ctx, &cloudwatch.DescribeAlarmsInput{})
		if err != nil {
			return nil, classify.Remote(err)
		}
		alarms := make([]alarmSummary, 0, len(out.MetricAlarms))
		firing := 0
		for _, a := range out.MetricAlarms {
			summary := alarmSummary{
				Name:   aws.ToString(a.AlarmName),
				State:  string(a.StateValue),
				Metric: aws.ToString(a.MetricName),
			}
			if a.StateValue == cwtypes.StateValueAlarm {
				firing++
			}
			alarms = append(alarms, summary)
		}
		return marshalResult(map[string]interface{}{
			"count":      len(alarms),
			"in_alarm":   firing,
			"alarms":     alarms,
			"checked_at": time.Now().UTC(),
		})

	case OpResourceList:
		out, err := cloudformation.NewFromConfig(cfg).ListStacks(ctx, &cloudformation.ListStacksInput{})
		if err != nil {
			return nil, classify.Remote(err)
		}
		stacks := make([]stackSummary, 0, len(out.StackSummaries))
		for _, s := range out.StackSummaries {
			stacks = append(stacks, stackSummary{
				Name:   aws.ToString(s.StackName),
				Status: string(s.StackStatus),
			})
		}
		return marshalResult(map[string]interface{}{
			"count":  len(stacks),
			"stacks": stacks,
		})

	default:
		return nil, unsupportedOperation(CategoryManagement, operation)
	}
}
