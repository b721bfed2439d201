package service

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcnelson/stack-manager/internal/domain"
	"github.com/bcnelson/stack-manager/internal/params"
	"github.com/bcnelson/stack-manager/internal/priority"
)

func appRequest(name string) domain.StackRequest {
	tasks := 2
	image := "nginx:1.27"
	return domain.StackRequest{Name: name, Tasks: &tasks, Image: &image}
}

func parameter(t *testing.T, ps []cftypes.Parameter, key string) cftypes.Parameter {
	t.Helper()
	for _, p := range ps {
		if aws.ToString(p.ParameterKey) == key {
			return p
		}
	}
	t.Fatalf("parameter %s not sent", key)
	return cftypes.Parameter{}
}

func TestCreate_Application(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	created := e.create(t, teamA, domain.KindApplication, appRequest("demo"))
	assert.Equal(t, "gurum-demo", created.StackName)
	assert.Equal(t, string(cftypes.StackStatusCreateInProgress), created.Status)
	assert.Equal(t, "team-a", created.OwnerGroup)

	require.Len(t, e.cfn.creates, 1)
	in := e.cfn.creates[0]
	assert.Equal(t, appTemplate, aws.ToString(in.TemplateURL))
	assert.Equal(t, "arn:aws:iam::000000000000:role/deploy", aws.ToString(in.RoleARN))
	assert.Equal(t, []cftypes.Capability{cftypes.CapabilityCapabilityNamedIam}, in.Capabilities)
	assert.Equal(t, int32(15), aws.ToInt32(in.TimeoutInMinutes))
	assert.NotEmpty(t, aws.ToString(in.ClientRequestToken))

	p, err := strconv.Atoi(aws.ToString(parameter(t, in.Parameters, params.ParamPriority).ParameterValue))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p, 0)
	assert.Less(t, p, priority.Limit)

	got, err := e.factory.Manager(teamA, domain.KindApplication).Describe(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, string(cftypes.StackStatusCreateComplete), got.Status)
	assert.Equal(t, domain.KindApplication, got.Kind)
	assert.Equal(t, "shared-lb", got.Subtype)
	assert.Equal(t, "latest", got.Version)
	assert.Equal(t, "alice@example.com", got.OwnerIdentity)
	assert.Equal(t, "2", got.Parameters[params.ParamDesiredCount])
	assert.Equal(t, strconv.Itoa(p), got.Parameters[params.ParamPriority])
}

func TestOwnershipFilter(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.create(t, teamA, domain.KindApplication, appRequest("demo"))

	mine, err := e.factory.Manager(teamA, domain.KindApplication).List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "demo", mine[0]["name"])

	other := e.factory.Manager(teamB, domain.KindApplication)
	theirs, err := other.List(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, theirs)

	_, hidden := other.Describe(ctx, "demo")
	require.ErrorIs(t, hidden, domain.ErrNoSuchObject)
	_, absent := other.Describe(ctx, "missing")
	require.ErrorIs(t, absent, domain.ErrNoSuchObject)
	assert.Equal(t, domain.AsError(absent).Message, domain.AsError(hidden).Message)
}

func TestTypeFilter(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.create(t, teamA, domain.KindApplication, appRequest("demo"))

	pipelines := e.factory.Manager(teamA, domain.KindPipeline)
	list, err := pipelines.List(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = pipelines.Describe(ctx, "demo")
	assert.ErrorIs(t, err, domain.ErrNoSuchObject)

	all, err := e.factory.Manager(teamA, domain.KindAny).List(ctx, []string{"name", "type"})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "app", all[0]["type"])
}

func TestForeignStacksAreInvisible(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.mem.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:   aws.String("gurum-foreign"),
		TemplateURL: aws.String(appTemplate),
		Tags: []cftypes.Tag{
			{Key: aws.String(e.cfg.Tags.Groups), Value: aws.String("team-a")},
			{Key: aws.String(e.cfg.Tags.Type), Value: aws.String("app")},
		},
	})
	require.NoError(t, err)

	m := e.factory.Manager(teamA, domain.KindApplication)
	list, err := m.List(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = m.Describe(ctx, "foreign")
	assert.ErrorIs(t, err, domain.ErrNoSuchObject)
}

func TestList_Projection(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for _, name := range []string{"one", "two", "three"} {
		e.create(t, teamA, domain.KindApplication, appRequest(name))
	}

	rows, err := e.factory.Manager(teamA, domain.KindApplication).List(ctx, []string{"name", "owner_group", "status_reason", "bogus"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.Len(t, row, 4)
		assert.Equal(t, "team-a", row["owner_group"])
		assert.Equal(t, domain.NotAvailable, row["status_reason"])
		assert.Equal(t, domain.NotAvailable, row["bogus"])
	}

	defaults, err := e.factory.Manager(teamA, domain.KindApplication).List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, defaults, 3)
	assert.Len(t, defaults[0], len(domain.DefaultListFields))
}

func TestCreate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		caller domain.Caller
		kind   domain.Kind
		req    domain.StackRequest
		want   *domain.Error
	}{
		{name: "duplicate", caller: teamA, kind: domain.KindApplication, req: appRequest("demo"), want: domain.ErrAlreadyExists},
		{name: "no group", caller: domain.Caller{Identity: "nobody"}, kind: domain.KindApplication, req: appRequest("other"), want: domain.ErrPermissionDenied},
		{name: "any kind", caller: teamA, kind: domain.KindAny, req: appRequest("other"), want: domain.ErrInvalidInput},
		{name: "bad name", caller: teamA, kind: domain.KindApplication, req: appRequest("Not_Valid"), want: domain.ErrInvalidInput},
		{name: "pipeline without environments", caller: teamA, kind: domain.KindPipeline, req: domain.StackRequest{Name: "ci"}, want: domain.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.create(t, teamA, domain.KindApplication, appRequest("demo"))

			_, err := e.factory.Manager(tt.caller, tt.kind).Create(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestUpdate_KeepsTemplateAndPriority(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.create(t, teamA, domain.KindApplication, appRequest("demo"))
	m := e.factory.Manager(teamA, domain.KindApplication)

	before, err := m.Describe(ctx, "demo")
	require.NoError(t, err)

	image := "nginx:1.28"
	updated, err := m.Update(ctx, "demo", domain.StackRequest{Image: &image, Version: "v9"})
	require.NoError(t, err)
	assert.Equal(t, "latest", updated.Version)
	assert.Equal(t, string(cftypes.StackStatusUpdateInProgress), updated.Status)

	require.Len(t, e.cfn.updates, 1)
	in := e.cfn.updates[0]
	assert.Nil(t, in.TemplateURL)
	assert.True(t, aws.ToBool(in.UsePreviousTemplate))
	assert.True(t, aws.ToBool(parameter(t, in.Parameters, params.ParamPriority).UsePreviousValue))
	assert.True(t, aws.ToBool(parameter(t, in.Parameters, params.ParamDesiredCount).UsePreviousValue))
	assert.Equal(t, image, aws.ToString(parameter(t, in.Parameters, params.ParamDockerImage).ParameterValue))

	after, err := m.Describe(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, before.Parameters[params.ParamPriority], after.Parameters[params.ParamPriority])
	assert.Equal(t, "2", after.Parameters[params.ParamDesiredCount])
	assert.Equal(t, image, after.Parameters[params.ParamDockerImage])
	assert.Equal(t, "alice@example.com", after.OwnerIdentity)
}

func TestUpdate_Service_KeepsOmittedConfig(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.create(t, teamA, domain.KindService, domain.StackRequest{
		Name:   "svc",
		Config: map[string]string{"LogLevel": "info", "Replicas": "3"},
	})
	m := e.factory.Manager(teamA, domain.KindService)

	_, err := m.Update(ctx, "svc", domain.StackRequest{Config: map[string]string{"LogLevel": "debug"}})
	require.NoError(t, err)

	require.Len(t, e.cfn.updates, 1)
	in := e.cfn.updates[0]
	require.Len(t, in.Parameters, 2)
	assert.Equal(t, "debug", aws.ToString(parameter(t, in.Parameters, "LogLevel").ParameterValue))
	assert.True(t, aws.ToBool(parameter(t, in.Parameters, "Replicas").UsePreviousValue))

	got, err := m.Describe(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"LogLevel": "debug", "Replicas": "3"}, got.Parameters)
}

func TestUpdate_Pipeline_KeepsOmittedSource(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.create(t, teamA, domain.KindPipeline, domain.StackRequest{
		Name:         "pl",
		Source:       map[string]string{"GitHubRepo": "repo", "GitHubBranch": "main"},
		Environments: []string{"api", "api-dev", "api-test"},
	})
	m := e.factory.Manager(teamA, domain.KindPipeline)

	_, err := m.Update(ctx, "pl", domain.StackRequest{Source: map[string]string{"GitHubBranch": "dev"}})
	require.NoError(t, err)

	got, err := m.Describe(ctx, "pl")
	require.NoError(t, err)
	assert.Equal(t, "repo", got.Parameters["GitHubRepo"])
	assert.Equal(t, "dev", got.Parameters["GitHubBranch"])
	assert.Equal(t, "gurum-api", got.Parameters["ServiceProd"])
	assert.Equal(t, "gurum-api-dev", got.Parameters["ServiceDev"])
	assert.Equal(t, "gurum-api-test", got.Parameters["ServiceTest"])
}

func TestUpdate_Pipeline_SingleEnvironment(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.create(t, teamA, domain.KindPipeline, domain.StackRequest{
		Name:         "pl",
		Source:       map[string]string{"GitHubBranch": "main"},
		Environments: []string{"prod"},
	})
	m := e.factory.Manager(teamA, domain.KindPipeline)

	_, err := m.Update(ctx, "pl", domain.StackRequest{Source: map[string]string{"GitHubBranch": "dev"}})
	require.NoError(t, err)

	require.Len(t, e.cfn.updates, 1)
	for _, p := range e.cfn.updates[0].Parameters {
		assert.NotContains(t, []string{"ServiceDev", "ServiceTest"}, aws.ToString(p.ParameterKey))
	}

	got, err := m.Describe(ctx, "pl")
	require.NoError(t, err)
	assert.Equal(t, "gurum-prod", got.Parameters["ServiceProd"])
	assert.Equal(t, "dev", got.Parameters["GitHubBranch"])
}

func TestUpdate_UpgradeVersion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.create(t, teamA, domain.KindApplication, appRequest("demo"))
	m := e.factory.Manager(teamA, domain.KindApplication)

	_, err := m.Update(ctx, "demo", domain.StackRequest{Version: "v2", UpgradeVersion: true})
	require.NoError(t, err)

	require.Len(t, e.cfn.updates, 1)
	assert.Equal(t, "https://templates.s3.eu-west-1.amazonaws.com/cfn/apps/app-shared-lb-v2.yaml",
		aws.ToString(e.cfn.updates[0].TemplateURL))
	assert.Nil(t, e.cfn.updates[0].UsePreviousTemplate)

	got, err := m.Describe(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Version)
	assert.Equal(t, "shared-lb", got.Subtype)
}

func TestUpdate_NotOwned(t *testing.T) {
	e := newEnv(t)
	e.create(t, teamA, domain.KindApplication, appRequest("demo"))

	image := "evil"
	_, err := e.factory.Manager(teamB, domain.KindApplication).Update(context.Background(), "demo", domain.StackRequest{Image: &image})
	assert.ErrorIs(t, err, domain.ErrNoSuchObject)
	assert.Empty(t, e.cfn.updates)
}

func TestUpdate_RolledBackStack(t *testing.T) {
	e := newEnv(t)
	e.create(t, teamA, domain.KindApplication, appRequest("demo"))
	require.NoError(t, e.mem.SetStackStatus("gurum-demo", cftypes.StackStatusRollbackComplete, "failed"))

	image := "nginx:2"
	_, err := e.factory.Manager(teamA, domain.KindApplication).Update(context.Background(), "demo", domain.StackRequest{Image: &image})
	assert.ErrorIs(t, err, domain.ErrStackInconsistent)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestUpdate_NoChanges(t *testing.T) {
	e := newEnv(t)
	e.create(t, teamA, domain.KindApplication, appRequest("demo"))

	_, err := e.factory.Manager(teamA, domain.KindApplication).Update(context.Background(), "demo", domain.StackRequest{})
	assert.ErrorIs(t, err, domain.ErrNoChanges)
}

func TestDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.create(t, teamA, domain.KindApplication, appRequest("demo"))

	err := e.factory.Manager(teamB, domain.KindApplication).Delete(ctx, "demo")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Empty(t, e.cfn.deletes)

	m := e.factory.Manager(teamA, domain.KindApplication)
	require.NoError(t, m.Delete(ctx, "demo"))
	require.Len(t, e.cfn.deletes, 1)
	assert.Equal(t, "gurum-demo", aws.ToString(e.cfn.deletes[0].StackName))

	_, err = m.Describe(ctx, "demo")
	assert.ErrorIs(t, err, domain.ErrNoSuchObject)

	err = m.Delete(ctx, "demo")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestDelete_NeverExisted(t *testing.T) {
	e := newEnv(t)

	err := e.factory.Manager(teamA, domain.KindApplication).Delete(context.Background(), "absent")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Empty(t, e.cfn.deletes)
}

func TestHasPermissions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.create(t, teamA, domain.KindApplication, appRequest("demo"))

	assert.True(t, e.factory.Manager(teamA, domain.KindApplication).HasPermissions(ctx, "gurum-demo"))
	assert.True(t, e.factory.Manager(teamA, domain.KindPipeline).HasPermissions(ctx, "gurum-demo"))
	assert.False(t, e.factory.Manager(teamB, domain.KindApplication).HasPermissions(ctx, "gurum-demo"))
	assert.False(t, e.factory.Manager(teamA, domain.KindApplication).HasPermissions(ctx, "gurum-missing"))
}

func TestEvents(t *testing.T) {
	e := newEnv(t)
	e.cfg.Platform.EventsLimit = 3
	ctx := context.Background()
	e.create(t, teamA, domain.KindApplication, appRequest("demo"))
	m := e.factory.Manager(teamA, domain.KindApplication)

	for _, image := range []string{"nginx:2", "nginx:3"} {
		_, err := m.Update(ctx, "demo", domain.StackRequest{Image: aws.String(image)})
		require.NoError(t, err)
	}

	events, err := m.Events(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "demo", events[0].Name)
	assert.Equal(t, string(cftypes.ResourceStatusUpdateComplete), events[0].Status)
	assert.Equal(t, string(cftypes.ResourceStatusUpdateInProgress), events[1].Status)
	assert.Equal(t, string(cftypes.ResourceStatusUpdateComplete), events[2].Status)

	_, err = e.factory.Manager(teamB, domain.KindApplication).Events(ctx, "demo")
	assert.ErrorIs(t, err, domain.ErrNoSuchObject)
}

func TestPipelineStates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.create(t, teamA, domain.KindPipeline, domain.StackRequest{
		Name:         "ci",
		Environments: []string{"demo"},
		Source:       map[string]string{"GitHubToken": "secret", "Repository": "org/demo"},
	})

	pipelines := e.factory.Pipelines(teamA)
	states, err := pipelines.Get(ctx, "ci")
	require.NoError(t, err)
	require.Len(t, states, 4)
	assert.Equal(t, "Source", states[0].StageName)
	assert.Equal(t, "100", states[0].PercentComplete)
	assert.Equal(t, "InProgress", states[2].Status)
	assert.Equal(t, domain.NotAvailable, states[3].Status)
	assert.Equal(t, domain.NotAvailable, states[3].LastStatusChange)

	_, err = e.factory.Pipelines(teamB).Get(ctx, "ci")
	assert.ErrorIs(t, err, domain.ErrNoSuchObject)

	result, err := pipelines.Approve(ctx, "ci", domain.ApprovalRequest{Status: domain.ApprovalApproved, Summary: "ship it"})
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, result.Status)
	assert.NotNil(t, result.ApprovedAt)

	states, err = pipelines.Get(ctx, "ci")
	require.NoError(t, err)
	assert.Equal(t, "Succeeded", states[2].Status)

	_, err = pipelines.Approve(ctx, "ci", domain.ApprovalRequest{Status: domain.ApprovalRejected})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = pipelines.Approve(ctx, "ci", domain.ApprovalRequest{Status: "Maybe"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPipelineStates_NotAPipelineStack(t *testing.T) {
	e := newEnv(t)
	e.create(t, teamA, domain.KindApplication, appRequest("demo"))

	_, err := e.factory.Pipelines(teamA).Get(context.Background(), "demo")
	assert.ErrorIs(t, err, domain.ErrNoSuchObject)
}

func TestDelete_VanishedStack(t *testing.T) {
	cfg := testConfig()
	deleted := 0
	client := &mockCFN{
		describeStacksFunc: func(_ context.Context, _ *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
			return &cloudformation.DescribeStacksOutput{Stacks: []cftypes.Stack{ownedStack(cfg, domain.KindApplication, "demo")}}, nil
		},
		deleteStackFunc: func(_ context.Context, _ *cloudformation.DeleteStackInput) (*cloudformation.DeleteStackOutput, error) {
			deleted++
			return nil, &smithy.GenericAPIError{Code: "ValidationError", Message: "Stack with id gurum-demo does not exist"}
		},
	}

	err := mockManager(client, domain.KindApplication).Delete(context.Background(), "demo")
	assert.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestHasPermissions_BackendFailureDenies(t *testing.T) {
	client := &mockCFN{
		describeStacksFunc: func(_ context.Context, _ *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "Throttling", Message: "Rate exceeded"}
		},
	}
	m := mockManager(client, domain.KindApplication)

	assert.False(t, m.HasPermissions(context.Background(), "gurum-demo"))

	err := m.Delete(context.Background(), "demo")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestDescribe_UnknownErrorHidesCause(t *testing.T) {
	client := &mockCFN{
		describeStacksFunc: func(_ context.Context, _ *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
			return nil, errors.New("dial tcp 10.0.0.1:443: connection refused")
		},
	}

	_, err := mockManager(client, domain.KindApplication).Describe(context.Background(), "demo")
	require.ErrorIs(t, err, domain.ErrUnknown)
	de := domain.AsError(err)
	assert.Equal(t, domain.ErrUnknown.Message, de.Message)
	assert.NotContains(t, de.Message, "10.0.0.1")
}

func TestUpdate_BackendFailure(t *testing.T) {
	cfg := testConfig()
	client := &mockCFN{
		describeStacksFunc: func(_ context.Context, _ *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
			return &cloudformation.DescribeStacksOutput{Stacks: []cftypes.Stack{ownedStack(cfg, domain.KindService, "svc")}}, nil
		},
		updateStackFunc: func(_ context.Context, _ *cloudformation.UpdateStackInput) (*cloudformation.UpdateStackOutput, error) {
			return nil, &cftypes.InsufficientCapabilitiesException{Message: aws.String("Requires capabilities : [CAPABILITY_AUTO_EXPAND]")}
		},
	}

	_, err := mockManager(client, domain.KindService).Update(context.Background(), "svc", domain.StackRequest{
		Config: map[string]string{"LogLevel": "debug"},
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientCapabilities)
}
