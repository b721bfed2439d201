package service

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/google/uuid"

	"github.com/bcnelson/stack-manager/internal/backend"
	"github.com/bcnelson/stack-manager/internal/codec"
	"github.com/bcnelson/stack-manager/internal/domain"
	"github.com/bcnelson/stack-manager/internal/log"
	"github.com/bcnelson/stack-manager/internal/metrics"
	"github.com/bcnelson/stack-manager/internal/validation"
)

var capabilities = []cftypes.Capability{cftypes.CapabilityCapabilityNamedIam}

// Create creates a stack named after req.Name. The returned stack reflects
// the request; the backend reports CREATE_IN_PROGRESS until provisioning
// finishes.
func (m *StackManager) Create(ctx context.Context, req domain.StackRequest) (stack *domain.Stack, err error) {
	ctx, finish := m.start(ctx, "create", req.Name)
	defer func() { finish(err) }()

	if err := m.writable(); err != nil {
		return nil, err
	}

	req.ApplyDefaults(m.kind)
	if err := validation.ValidateRequest(m.kind, domain.OperationCreate, req, m.deps.Config.Platform.Prefix); err != nil {
		return nil, asInvalidInput(err)
	}

	parameters, err := m.builder.Build(ctx, domain.OperationCreate, req, nil)
	if err != nil {
		return nil, backend.Translate(err)
	}

	templateURL, err := m.deps.Templates.URL(ctx, m.kind, req.Subtype, req.Version)
	if err != nil {
		return nil, backend.Translate(err)
	}

	stackName := m.deps.Config.Platform.StackName(req.Name)
	tags := m.tags(req.Subtype, req.Version, m.caller.Identity)

	log.Ctx(ctx).Info().Str("template", templateURL).Msg("creating stack")

	start := time.Now()
	out, err := m.deps.CloudFormation.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:          aws.String(stackName),
		TemplateURL:        aws.String(templateURL),
		Parameters:         parameters,
		Tags:               codec.ToTags(tags),
		Capabilities:       capabilities,
		RoleARN:            optional(m.deps.Config.Platform.DeploymentRole),
		TimeoutInMinutes:   aws.Int32(int32(m.deps.Config.Platform.StackTimeout / time.Minute)),
		ClientRequestToken: aws.String(uuid.NewString()),
	})
	metrics.ObserveBackendCall("CreateStack", start)
	if err != nil {
		return nil, backend.Translate(err)
	}

	return &domain.Stack{
		Name:          req.Name,
		StackName:     stackName,
		StackID:       aws.ToString(out.StackId),
		Kind:          m.kind,
		Subtype:       req.Subtype,
		Version:       req.Version,
		OwnerGroup:    m.caller.Group,
		OwnerIdentity: m.caller.Identity,
		Region:        m.deps.Config.Platform.Region,
		Status:        string(cftypes.StackStatusCreateInProgress),
		Parameters:    codec.ParameterValues(parameters),
		Tags:          tags,
	}, nil
}

// Update updates a stack the caller owns. Parameters the request leaves out
// keep their current value. The template only changes when
// req.UpgradeVersion is set; otherwise the current template is reused.
func (m *StackManager) Update(ctx context.Context, name string, req domain.StackRequest) (stack *domain.Stack, err error) {
	ctx, finish := m.start(ctx, "update", name)
	defer func() { finish(err) }()

	if err := m.writable(); err != nil {
		return nil, err
	}

	current, err := m.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	existing := m.toDomain(*current)

	// Subtype and version follow the template, so they only change with it.
	req.Name = name
	if !req.UpgradeVersion || req.Subtype == "" {
		req.Subtype = existing.Subtype
	}
	if !req.UpgradeVersion {
		req.Version = existing.Version
	}
	req.ApplyDefaults(m.kind)
	if err := validation.ValidateRequest(m.kind, domain.OperationUpdate, req, m.deps.Config.Platform.Prefix); err != nil {
		return nil, asInvalidInput(err)
	}

	parameters, err := m.builder.Build(ctx, domain.OperationUpdate, req, codec.ParameterKeys(current.Parameters))
	if err != nil {
		return nil, backend.Translate(err)
	}

	identity := existing.OwnerIdentity
	if identity == "" {
		identity = m.caller.Identity
	}
	tags := m.tags(req.Subtype, req.Version, identity)

	input := &cloudformation.UpdateStackInput{
		StackName:    aws.String(existing.StackName),
		Parameters:   parameters,
		Tags:         codec.ToTags(tags),
		Capabilities: capabilities,
		RoleARN:      optional(m.deps.Config.Platform.DeploymentRole),
	}
	if req.UpgradeVersion {
		templateURL, err := m.deps.Templates.URL(ctx, m.kind, req.Subtype, req.Version)
		if err != nil {
			return nil, backend.Translate(err)
		}
		input.TemplateURL = aws.String(templateURL)
		log.Ctx(ctx).Info().Str("template", templateURL).Msg("upgrading stack")
	} else {
		input.UsePreviousTemplate = aws.Bool(true)
		log.Ctx(ctx).Info().Msg("updating stack")
	}

	start := time.Now()
	_, err = m.deps.CloudFormation.UpdateStack(ctx, input)
	metrics.ObserveBackendCall("UpdateStack", start)
	if err != nil {
		return nil, backend.Translate(err)
	}

	existing.Subtype = req.Subtype
	existing.Version = req.Version
	existing.Status = string(cftypes.StackStatusUpdateInProgress)
	existing.StatusReason = ""
	existing.Tags = tags
	for k, v := range codec.ParameterValues(parameters) {
		existing.Parameters[k] = v
	}
	return existing, nil
}

// Delete deletes a stack the caller owns. The ownership check fails closed:
// a name that does not resolve to an owned stack, including one that never
// existed, is PermissionDenied and no delete is issued. A stack that
// disappears between the check and the delete call counts as deleted.
func (m *StackManager) Delete(ctx context.Context, name string) (err error) {
	ctx, finish := m.start(ctx, "delete", name)
	defer func() { finish(err) }()

	if err := validation.ValidateStackName(name, m.deps.Config.Platform.Prefix); err != nil {
		return domain.InvalidInput("%v", err)
	}

	stackName := m.deps.Config.Platform.StackName(name)
	if !m.HasPermissions(ctx, stackName) {
		return domain.NewError(domain.KindPermissionDenied, "", nil)
	}

	log.Ctx(ctx).Info().Msg("deleting stack")

	start := time.Now()
	_, err = m.deps.CloudFormation.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName:          aws.String(stackName),
		RoleARN:            optional(m.deps.Config.Platform.DeploymentRole),
		ClientRequestToken: aws.String(uuid.NewString()),
	})
	metrics.ObserveBackendCall("DeleteStack", start)
	if err != nil {
		if backend.IsNotFound(err) {
			log.Ctx(ctx).Debug().Msg("stack already deleted")
			return nil
		}
		return backend.Translate(err)
	}
	return nil
}

// writable checks that the manager can create and update stacks.
func (m *StackManager) writable() error {
	if !m.kind.Valid() || m.builder == nil {
		return domain.InvalidInput("stacks of type %q cannot be created or updated", m.kind)
	}
	if m.caller.Group == "" {
		return domain.NewError(domain.KindPermissionDenied, "the caller does not belong to a group", nil)
	}
	return nil
}

func asInvalidInput(err error) error {
	var verrs validation.ValidationErrors
	if errors.As(err, &verrs) {
		return verrs.DomainError()
	}
	return domain.NewError(domain.KindInvalidInput, err.Error(), err)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
