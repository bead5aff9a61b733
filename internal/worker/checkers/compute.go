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

// ComputeChecker inspects EC2.
type ComputeChecker struct{}

func (c *ComputeChecker) Category() string { return CategoryCompute }

type instanceHealth struct {
	InstanceID     string `json:"instance_id"`
	State          string `json:"state"`
	InstanceStatus string `json:"instance_status"`
	SystemStatus   string `json:"system_status"`
}

type instanceSummary struct {
	InstanceID   string `json:"instance_id"`
	InstanceType string `json:"instance_type"`
	State        string `json:"state"`
}

func (c *ComputeChecker) Execute(ctx context.Context, secret vault.SecretMaterial, operation string, config map[string]interface{}) (json.RawMessage, error) {
	cfg, err := awsConfig(ctx, secret)
	if err != nil {
		return nil, err
	}
	client := ec2.NewFromConfig(cfg)

	switch operation {
	case OpHealthCheck:
		out, err := client.DescribeInstanceStatus(ctx, &ec2.DescribeInstanceStatusInput{
			IncludeAllInstances: aws.Bool(true),
		})
		if err != nil {
			return nil, classify.Remote(err)
		}
		statuses := make([]instanceHealth, 0, len(out.InstanceStatuses))
		for _, st := range out.InstanceStatuses {
			h := instanceHealth{InstanceID: aws.ToString(st.InstanceId)}
			if st.InstanceState != nil {
				h.State = string(st.InstanceState.Name)
			}
			if st.InstanceStatus != nil {
				h.InstanceStatus = string(st.InstanceStatus.Status)
			}
			if st.SystemStatus != nil {
				h.SystemStatus = string(st.SystemStatus.Status)
			}
			statuses = append(statuses, h)
		}
		return marshalResult(map[string]interface{}{
			"checked_at": time.Now().UTC(),
			"instances":  statuses,
		})

	case OpResourceList:
		out, err := client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{})
		if err != nil {
			return nil, classify.Remote(err)
		}
		var instances []instanceSummary
		for _, reservation := range out.Reservations {
			for _, inst := range reservation.Instances {
				s := instanceSummary{
					InstanceID:   aws.ToString(inst.InstanceId),
					InstanceType: string(inst.InstanceType),
				}
				if inst.State != nil {
					s.State = string(inst.State.Name)
				}
				instances = append(instances, s)
			}
		}
		return marshalResult(map[string]interface{}{
			"count":     len(instances),
			"instances": instances,
		})

	case CustomPrefix + "availability_zones":
		out, err := client.DescribeAvailabilityZones(ctx, &ec2.DescribeAvailabilityZonesInput{})
		if err != nil {
			return nil, classify.Remote(err)
		}
		zones := make([]map[string]string, 0, len(out.AvailabilityZones))
		for _, az := range out.AvailabilityZones {
			zones = append(zones, map[string]string{
				"name":  aws.ToString(az.ZoneName),
				"state": string(az.State),
			})
		}
		return marshalResult(map[string]interface{}{"availability_zones": zones})

	default:
		return nil, unsupportedOperation(CategoryCompute, operation)
	}
}
