package service

import (
	"github.com/bcnelson/stack-manager/internal/backend"
	"github.com/bcnelson/stack-manager/internal/config"
	"github.com/bcnelson/stack-manager/internal/domain"
	"github.com/bcnelson/stack-manager/internal/params"
	"github.com/bcnelson/stack-manager/internal/platform"
	"github.com/bcnelson/stack-manager/internal/priority"
)

// Factory creates per request managers from the process wide configuration
// and backend clients.
type Factory struct {
	deps         Deps
	codePipeline backend.CodePipelineAPI
	builders     map[domain.Kind]params.Builder
}

// NewFactory wires the parameter builders and platform resolvers.
func NewFactory(cfg *config.Config, clients *backend.Clients) *Factory {
	store := platform.NewParameterStore(clients.SSM, cfg.Platform.Prefix)
	listener := platform.NewListenerResolver(cfg.Platform, clients.CloudFormation, store)

	return &Factory{
		deps: Deps{
			Config:         cfg,
			CloudFormation: clients.CloudFormation,
			Templates:      platform.NewTemplateResolver(cfg.Platform, clients.S3),
		},
		codePipeline: clients.CodePipeline,
		builders: map[domain.Kind]params.Builder{
			domain.KindApplication: params.NewApplication(listener, priority.NewRuleSource(clients.ELBv2), priority.NewAllocator()),
			domain.KindPipeline:    params.NewPipeline(cfg.Platform.Prefix),
			domain.KindService:     params.NewService(),
		},
	}
}

// Manager returns a manager of kind acting for caller.
func (f *Factory) Manager(caller domain.Caller, kind domain.Kind) *StackManager {
	return NewStackManager(f.deps, caller, kind, f.builders[kind])
}

// Pipelines returns the pipeline state reader acting for caller.
func (f *Factory) Pipelines(caller domain.Caller) *PipelineStates {
	return NewPipelineStates(f.Manager(caller, domain.KindPipeline), f.codePipeline)
}
