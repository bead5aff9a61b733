package checkers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"cloud-inspection-service/internal/classify"
	"cloud-inspection-service/internal/vault"
)

// SecurityChecker inspects IAM and STS. health_check verifies the credential
// can identify itself at all, which doubles as the cheapest possible probe of
// the account boundary.
type SecurityChecker struct{}

func (c *SecurityChecker) Category() string { return CategorySecurity }

func (c *SecurityChecker) Execute(ctx context.Context, secret vault.SecretMaterial, operation string, config map[string]interface{}) (json.RawMessage, error) {
	cfg, err := awsConfig(ctx, secret)
	if err != nil {
		return nil, err
	}

	switch operation {
	case OpHealthCheck:
		out, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err != nil {
			return nil, classify.Remote(err)
		}
		return marshalResult(map[string]interface{}{
			"account":    aws.ToString(out.Account),
			"arn":        aws.ToString(out.Arn),
			"user_id":    aws.ToString(out.UserId),
			"checked_at": time.Now().UTC(),
		})

	case OpResourceList:
		out, err := iam.NewFromConfig(cfg).ListUsers(ctx, &iam.ListUsersInput{})
		if err != nil {
			return nil, classify.Remote(err)
		}
		users := make([]map[string]interface{}, 0, len(out.Users))
		for _, u := range out.Users {
			entry := map[string]interface{}{
				"user_name": aws.ToString(u.UserName),
				"arn":       aws.ToString(u.Arn),
			}
			if u.CreateDate != nil {
				entry["created_at"] = u.CreateDate.UTC()
			}
			users = append(users, entry)
		}
		return marshalResult(map[string]interface{}{
			"count": len(users),
			"users": users,
		})

	case CustomPrefix + "account_summary":
		out, err := iam.NewFromConfig(cfg).GetAccountSummary(ctx, &iam.GetAccountSummaryInput{})
		if err != nil {
			return nil, classify.Remote(err)
		}
		summary := make(map[string]int32, len(out.SummaryMap))
		for k, v := range out.SummaryMap {
			summary[string(k)] = v
		}
		return marshalResult(map[string]interface{}{"summary": summary})

	default:
		return nil, unsupportedOperation(CategorySecurity, operation)
	}
}
