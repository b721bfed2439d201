package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/stretchr/testify/require"

	"github.com/bcnelson/stack-manager/internal/backend"
	"github.com/bcnelson/stack-manager/internal/backend/memory"
	"github.com/bcnelson/stack-manager/internal/config"
	"github.com/bcnelson/stack-manager/internal/domain"
)

const (
	appTemplate      = "https://templates.s3.eu-west-1.amazonaws.com/cfn/apps/app-shared-lb-latest.yaml"
	pipelineTemplate = "https://templates.s3.eu-west-1.amazonaws.com/cfn/pipelines/pipeline-github-latest.yaml"
)

var (
	teamA = domain.Caller{Identity: "alice@example.com", Group: "team-a", Roles: []string{"owner"}}
	teamB = domain.Caller{Identity: "bob@example.com", Group: "team-b", Roles: []string{"owner"}}
)

func testConfig() *config.Config {
	return &config.Config{
		Platform: config.PlatformConfig{
			Prefix:         "gurum",
			Region:         "eu-west-1",
			DeploymentRole: "arn:aws:iam::000000000000:role/deploy",
			Bucket:         "templates",
			ListenerExport: "gurum-listener",
			StackTimeout:   15 * time.Minute,
			EventsLimit:    10,
		},
		Tags: config.TagConfig{}.WithDefaults("gurum"),
		AWS:  config.AWSConfig{Backend: "memory"},
		Auth: config.AuthConfig{Mode: "header", EnforceRoles: true},
	}
}

// recordingCFN records mutating calls and passes everything to the wrapped
// client.
type recordingCFN struct {
	backend.CloudFormationAPI
	creates []*cloudformation.CreateStackInput
	updates []*cloudformation.UpdateStackInput
	deletes []*cloudformation.DeleteStackInput
}

func (r *recordingCFN) CreateStack(ctx context.Context, in *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	r.creates = append(r.creates, in)
	return r.CloudFormationAPI.CreateStack(ctx, in, optFns...)
}

func (r *recordingCFN) UpdateStack(ctx context.Context, in *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error) {
	r.updates = append(r.updates, in)
	return r.CloudFormationAPI.UpdateStack(ctx, in, optFns...)
}

func (r *recordingCFN) DeleteStack(ctx context.Context, in *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error) {
	r.deletes = append(r.deletes, in)
	return r.CloudFormationAPI.DeleteStack(ctx, in, optFns...)
}

type env struct {
	mem     *memory.Backend
	cfn     *recordingCFN
	cfg     *config.Config
	factory *Factory
}

func newEnv(t *testing.T) *env {
	t.Helper()

	mem := memory.New(memory.Options{PageSize: 2})
	mem.SetExport("gurum-listener", mem.ListenerARN())
	mem.RegisterTemplate(pipelineTemplate, memory.Template{Pipeline: true})

	cfg := testConfig()
	clients := mem.Clients()
	cfn := &recordingCFN{CloudFormationAPI: mem}
	clients.CloudFormation = cfn

	return &env{mem: mem, cfn: cfn, cfg: cfg, factory: NewFactory(cfg, clients)}
}

func (e *env) create(t *testing.T, caller domain.Caller, kind domain.Kind, req domain.StackRequest) *domain.Stack {
	t.Helper()
	s, err := e.factory.Manager(caller, kind).Create(context.Background(), req)
	require.NoError(t, err)
	return s
}

// mockCFN is a CloudFormation client built from functions. Calls without a
// function fail.
type mockCFN struct {
	describeStacksFunc      func(ctx context.Context, in *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error)
	createStackFunc         func(ctx context.Context, in *cloudformation.CreateStackInput) (*cloudformation.CreateStackOutput, error)
	updateStackFunc         func(ctx context.Context, in *cloudformation.UpdateStackInput) (*cloudformation.UpdateStackOutput, error)
	deleteStackFunc         func(ctx context.Context, in *cloudformation.DeleteStackInput) (*cloudformation.DeleteStackOutput, error)
	describeStackEventsFunc func(ctx context.Context, in *cloudformation.DescribeStackEventsInput) (*cloudformation.DescribeStackEventsOutput, error)
	listExportsFunc         func(ctx context.Context, in *cloudformation.ListExportsInput) (*cloudformation.ListExportsOutput, error)
}

var errNotMocked = errors.New("call not mocked")

func (m *mockCFN) DescribeStacks(ctx context.Context, in *cloudformation.DescribeStacksInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	if m.describeStacksFunc == nil {
		return nil, errNotMocked
	}
	return m.describeStacksFunc(ctx, in)
}

func (m *mockCFN) CreateStack(ctx context.Context, in *cloudformation.CreateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	if m.createStackFunc == nil {
		return nil, errNotMocked
	}
	return m.createStackFunc(ctx, in)
}

func (m *mockCFN) UpdateStack(ctx context.Context, in *cloudformation.UpdateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error) {
	if m.updateStackFunc == nil {
		return nil, errNotMocked
	}
	return m.updateStackFunc(ctx, in)
}

func (m *mockCFN) DeleteStack(ctx context.Context, in *cloudformation.DeleteStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error) {
	if m.deleteStackFunc == nil {
		return nil, errNotMocked
	}
	return m.deleteStackFunc(ctx, in)
}

func (m *mockCFN) DescribeStackEvents(ctx context.Context, in *cloudformation.DescribeStackEventsInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error) {
	if m.describeStackEventsFunc == nil {
		return nil, errNotMocked
	}
	return m.describeStackEventsFunc(ctx, in)
}

func (m *mockCFN) ListExports(ctx context.Context, in *cloudformation.ListExportsInput, _ ...func(*cloudformation.Options)) (*cloudformation.ListExportsOutput, error) {
	if m.listExportsFunc == nil {
		return nil, errNotMocked
	}
	return m.listExportsFunc(ctx, in)
}

// mockManager returns a manager of kind acting for teamA on top of client.
func mockManager(client backend.CloudFormationAPI, kind domain.Kind) *StackManager {
	cfg := testConfig()
	clients := memory.New(memory.Options{}).Clients()
	clients.CloudFormation = client
	return NewFactory(cfg, clients).Manager(teamA, kind)
}

// ownedStack returns a backend stack of kind owned by teamA.
func ownedStack(cfg *config.Config, kind domain.Kind, name string) cftypes.Stack {
	keys := cfg.Tags
	return cftypes.Stack{
		StackName:   aws.String(cfg.Platform.StackName(name)),
		StackId:     aws.String("arn:aws:cloudformation:eu-west-1:000000000000:stack/" + cfg.Platform.StackName(name) + "/1"),
		StackStatus: cftypes.StackStatusCreateComplete,
		Tags: []cftypes.Tag{
			{Key: aws.String(keys.Version), Value: aws.String("latest")},
			{Key: aws.String(keys.Type), Value: aws.String(string(kind))},
			{Key: aws.String(keys.Groups), Value: aws.String(teamA.Group)},
		},
	}
}
