// Package backend holds the provisioning backend clients and translates their
// failures into domain errors.
package backend

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/bcnelson/stack-manager/internal/config"
	"github.com/bcnelson/stack-manager/internal/priority"
)

// CloudFormationAPI defines the CloudFormation operations used by the stack
// manager.
type CloudFormationAPI interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	UpdateStack(ctx context.Context, params *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
	DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
	DescribeStackEvents(ctx context.Context, params *cloudformation.DescribeStackEventsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error)
	ListExports(ctx context.Context, params *cloudformation.ListExportsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ListExportsOutput, error)
}

// CodePipelineAPI defines the CodePipeline operations used for pipeline
// state and manual approvals.
type CodePipelineAPI interface {
	GetPipelineState(ctx context.Context, params *codepipeline.GetPipelineStateInput, optFns ...func(*codepipeline.Options)) (*codepipeline.GetPipelineStateOutput, error)
	PutApprovalResult(ctx context.Context, params *codepipeline.PutApprovalResultInput, optFns ...func(*codepipeline.Options)) (*codepipeline.PutApprovalResultOutput, error)
}

// SSMAPI defines the parameter store operations used to read platform
// settings.
type SSMAPI interface {
	GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// S3API defines the S3 operations used to verify templates.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// STSAPI defines the STS operations used to report the backend identity.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Clients groups the backend clients. The in-memory backend implements every
// interface with a single value.
type Clients struct {
	CloudFormation CloudFormationAPI
	ELBv2          priority.ELBv2Client
	SSM            SSMAPI
	S3             S3API
	CodePipeline   CodePipelineAPI
	STS            STSAPI
}

// NewClients builds AWS clients from the default credential chain. When an
// assume role ARN is configured every client acts as that role.
func NewClients(ctx context.Context, cfg *config.Config) (*Clients, error) {
	awsCfg, err := loadConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &Clients{
		CloudFormation: cloudformation.NewFromConfig(awsCfg),
		ELBv2:          elbv2.NewFromConfig(awsCfg),
		SSM:            ssm.NewFromConfig(awsCfg),
		S3:             s3.NewFromConfig(awsCfg),
		CodePipeline:   codepipeline.NewFromConfig(awsCfg),
		STS:            sts.NewFromConfig(awsCfg),
	}, nil
}

func loadConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Platform.Region),
	}
	if cfg.AWS.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.AWS.EndpointURL))
	}

	baseCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading aws config: %w", err)
	}
	if cfg.AWS.AssumeRoleARN == "" {
		return baseCfg, nil
	}

	provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(baseCfg), cfg.AWS.AssumeRoleARN,
		func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = cfg.AWS.SessionName
		})
	baseCfg.Credentials = aws.NewCredentialsCache(provider)
	return baseCfg, nil
}

// Identity returns the account and ARN the backend clients act as.
func (c *Clients) Identity(ctx context.Context) (account, arn string, err error) {
	out, err := c.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", "", fmt.Errorf("get caller identity: %w", err)
	}
	return aws.ToString(out.Account), aws.ToString(out.Arn), nil
}
