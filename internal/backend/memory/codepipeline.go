package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	cptypes "github.com/aws/aws-sdk-go-v2/service/codepipeline/types"
	"github.com/google/uuid"
)

// Stage and action names of emulated pipelines.
const (
	SourceStage   = "Source"
	BuildStage    = "Build"
	ApprovalStage = "ApprovalStage"
	ApprovalName  = "Approval"
	DeployStage   = "Deploy"
)

type action struct {
	name    string
	status  cptypes.ActionExecutionStatus
	summary string
	token   string
	changed time.Time
}

type pipelineStage struct {
	name    string
	actions []*action
}

type pipeline struct {
	name   string
	stages []*pipelineStage
}

// createPipeline registers the pipeline of a stack. Source and build have
// run; the approval is waiting.
func (b *Backend) createPipeline(stackName string) string {
	now := b.opts.Now()
	name := stackName + "-pipeline"
	b.pipelines[name] = &pipeline{
		name: name,
		stages: []*pipelineStage{
			{name: SourceStage, actions: []*action{{name: SourceStage, status: cptypes.ActionExecutionStatusSucceeded, changed: now}}},
			{name: BuildStage, actions: []*action{{name: BuildStage, status: cptypes.ActionExecutionStatusSucceeded, changed: now}}},
			{name: ApprovalStage, actions: []*action{{name: ApprovalName, status: cptypes.ActionExecutionStatusInProgress, token: uuid.NewString(), changed: now}}},
			{name: DeployStage, actions: []*action{{name: DeployStage}}},
		},
	}
	return name
}

// GetPipelineState implements the CodePipeline API.
func (b *Backend) GetPipelineState(_ context.Context, in *codepipeline.GetPipelineStateInput, _ ...func(*codepipeline.Options)) (*codepipeline.GetPipelineStateOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pipelines[aws.ToString(in.Name)]
	if !ok {
		return nil, pipelineNotFound(aws.ToString(in.Name))
	}

	out := &codepipeline.GetPipelineStateOutput{
		PipelineName:    aws.String(p.name),
		PipelineVersion: aws.Int32(1),
	}
	for _, st := range p.stages {
		state := cptypes.StageState{StageName: aws.String(st.name)}
		for _, a := range st.actions {
			as := cptypes.ActionState{ActionName: aws.String(a.name)}
			if a.status != "" {
				as.LatestExecution = &cptypes.ActionExecution{
					Status:           a.status,
					Summary:          optional(a.summary),
					Token:            optional(a.token),
					LastStatusChange: aws.Time(a.changed),
				}
				if a.status == cptypes.ActionExecutionStatusSucceeded {
					as.LatestExecution.PercentComplete = aws.Int32(100)
				}
			}
			state.ActionStates = append(state.ActionStates, as)
		}
		out.StageStates = append(out.StageStates, state)
	}
	return out, nil
}

// PutApprovalResult implements the CodePipeline API.
func (b *Backend) PutApprovalResult(_ context.Context, in *codepipeline.PutApprovalResultInput, _ ...func(*codepipeline.Options)) (*codepipeline.PutApprovalResultOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	name := aws.ToString(in.PipelineName)
	p, ok := b.pipelines[name]
	if !ok {
		return nil, pipelineNotFound(name)
	}

	var st *pipelineStage
	for _, s := range p.stages {
		if s.name == aws.ToString(in.StageName) {
			st = s
		}
	}
	if st == nil {
		return nil, &cptypes.StageNotFoundException{Message: aws.String(fmt.Sprintf("Stage %s not found", aws.ToString(in.StageName)))}
	}

	var a *action
	for _, candidate := range st.actions {
		if candidate.name == aws.ToString(in.ActionName) {
			a = candidate
		}
	}
	if a == nil {
		return nil, &cptypes.ActionNotFoundException{Message: aws.String(fmt.Sprintf("Action %s not found", aws.ToString(in.ActionName)))}
	}

	if a.status != cptypes.ActionExecutionStatusInProgress {
		return nil, &cptypes.ApprovalAlreadyCompletedException{Message: aws.String("Approval has already been completed")}
	}
	if a.token == "" || a.token != aws.ToString(in.Token) {
		return nil, &cptypes.InvalidApprovalTokenException{Message: aws.String("The approval token is not valid")}
	}
	if in.Result == nil {
		return nil, validationError("1 validation error detected: Value null at 'result' failed to satisfy constraint: Member must not be null")
	}

	now := b.opts.Now()
	a.changed = now
	a.summary = aws.ToString(in.Result.Summary)
	if in.Result.Status == cptypes.ApprovalStatusApproved {
		a.status = cptypes.ActionExecutionStatusSucceeded
	} else {
		a.status = cptypes.ActionExecutionStatusFailed
	}

	return &codepipeline.PutApprovalResultOutput{ApprovedAt: aws.Time(now)}, nil
}

func pipelineNotFound(name string) error {
	return &cptypes.PipelineNotFoundException{Message: aws.String(fmt.Sprintf("Account does not have a pipeline with name '%s'", name))}
}
