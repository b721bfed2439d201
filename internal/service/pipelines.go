package service

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	cptypes "github.com/aws/aws-sdk-go-v2/service/codepipeline/types"

	"github.com/bcnelson/stack-manager/internal/backend"
	"github.com/bcnelson/stack-manager/internal/domain"
	"github.com/bcnelson/stack-manager/internal/log"
	"github.com/bcnelson/stack-manager/internal/metrics"
	"github.com/bcnelson/stack-manager/internal/validation"
)

// PipelineNameOutput is the output of pipeline stacks that names their
// delivery pipeline.
const PipelineNameOutput = "PipelineName"

// PipelineStates reads and approves the delivery pipelines of pipeline
// stacks. Access goes through the stack: a caller can only see pipelines of
// stacks their group owns.
type PipelineStates struct {
	stacks *StackManager
	client backend.CodePipelineAPI
}

// NewPipelineStates creates a pipeline state reader on top of a pipeline
// stack manager.
func NewPipelineStates(stacks *StackManager, client backend.CodePipelineAPI) *PipelineStates {
	return &PipelineStates{stacks: stacks, client: client}
}

// Get returns the latest execution of every action of the stack's pipeline.
func (p *PipelineStates) Get(ctx context.Context, name string) (states []domain.PipelineActionState, err error) {
	ctx, finish := p.stacks.start(ctx, "pipeline_state", name)
	defer func() { finish(err) }()

	pipelineName, err := p.pipelineName(ctx, name)
	if err != nil {
		return nil, err
	}

	out, err := p.state(ctx, pipelineName)
	if err != nil {
		return nil, err
	}

	states = make([]domain.PipelineActionState, 0)
	for _, stage := range out.StageStates {
		for _, action := range stage.ActionStates {
			states = append(states, actionState(aws.ToString(stage.StageName), action))
		}
	}
	return states, nil
}

// Approve answers the pending manual approval of the stack's pipeline.
func (p *PipelineStates) Approve(ctx context.Context, name string, req domain.ApprovalRequest) (result *domain.ApprovalResult, err error) {
	ctx, finish := p.stacks.start(ctx, "pipeline_approval", name)
	defer func() { finish(err) }()

	if err := validation.ValidateApprovalStatus(string(req.Status)); err != nil {
		return nil, domain.InvalidInput("%v", err)
	}

	pipelineName, err := p.pipelineName(ctx, name)
	if err != nil {
		return nil, err
	}

	out, err := p.state(ctx, pipelineName)
	if err != nil {
		return nil, err
	}

	token := approvalToken(out)
	if token == "" {
		return nil, domain.InvalidInput("no pending approval for this pipeline")
	}

	log.Ctx(ctx).Info().Str("pipeline", pipelineName).Str("status", string(req.Status)).Msg("answering approval")

	start := time.Now()
	approved, err := p.client.PutApprovalResult(ctx, &codepipeline.PutApprovalResultInput{
		PipelineName: aws.String(pipelineName),
		StageName:    aws.String(domain.ApprovalStageName),
		ActionName:   aws.String(domain.ApprovalActionName),
		Token:        aws.String(token),
		Result: &cptypes.ApprovalResult{
			Status:  cptypes.ApprovalStatus(req.Status),
			Summary: aws.String(req.Summary),
		},
	})
	metrics.ObserveBackendCall("PutApprovalResult", start)
	if err != nil {
		return nil, backend.Translate(err)
	}

	return &domain.ApprovalResult{
		Status:     req.Status,
		Summary:    req.Summary,
		ApprovedAt: approved.ApprovedAt,
	}, nil
}

func (p *PipelineStates) pipelineName(ctx context.Context, name string) (string, error) {
	s, err := p.stacks.lookup(ctx, name)
	if err != nil {
		return "", err
	}
	stack := p.stacks.toDomain(*s)
	pipelineName := stack.Outputs[PipelineNameOutput]
	if pipelineName == "" {
		return "", domain.InvalidInput("stack %q has no delivery pipeline yet (status %s)", name, stack.Status)
	}
	return pipelineName, nil
}

func (p *PipelineStates) state(ctx context.Context, pipelineName string) (*codepipeline.GetPipelineStateOutput, error) {
	start := time.Now()
	out, err := p.client.GetPipelineState(ctx, &codepipeline.GetPipelineStateInput{Name: aws.String(pipelineName)})
	metrics.ObserveBackendCall("GetPipelineState", start)
	if err != nil {
		return nil, backend.Translate(err)
	}
	return out, nil
}

// approvalToken returns the token of the approval action when it waits for
// an answer.
func approvalToken(out *codepipeline.GetPipelineStateOutput) string {
	for _, stage := range out.StageStates {
		if aws.ToString(stage.StageName) != domain.ApprovalStageName {
			continue
		}
		for _, action := range stage.ActionStates {
			if aws.ToString(action.ActionName) != domain.ApprovalActionName || action.LatestExecution == nil {
				continue
			}
			if action.LatestExecution.Status == cptypes.ActionExecutionStatusInProgress {
				return aws.ToString(action.LatestExecution.Token)
			}
		}
	}
	return ""
}

func actionState(stage string, action cptypes.ActionState) domain.PipelineActionState {
	state := domain.PipelineActionState{
		StageName:        stage,
		Name:             aws.ToString(action.ActionName),
		Status:           domain.NotAvailable,
		PercentComplete:  domain.NotAvailable,
		LastStatusChange: domain.NotAvailable,
		ErrorDetails:     domain.NotAvailable,
	}

	exec := action.LatestExecution
	if exec == nil {
		return state
	}
	if exec.Status != "" {
		state.Status = string(exec.Status)
	}
	if exec.PercentComplete != nil {
		state.PercentComplete = strconv.Itoa(int(*exec.PercentComplete))
	}
	if exec.LastStatusChange != nil {
		state.LastStatusChange = exec.LastStatusChange.UTC().Format(time.RFC3339)
	}
	if exec.ErrorDetails != nil {
		state.ErrorDetails = aws.ToString(exec.ErrorDetails.Message)
	}
	return state
}
