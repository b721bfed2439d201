// Package service implements the stack manager: the create, describe,
// update, delete and list lifecycle of platform stacks, restricted to the
// stacks the caller's group owns.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bcnelson/stack-manager/internal/backend"
	"github.com/bcnelson/stack-manager/internal/codec"
	"github.com/bcnelson/stack-manager/internal/config"
	"github.com/bcnelson/stack-manager/internal/domain"
	"github.com/bcnelson/stack-manager/internal/log"
	"github.com/bcnelson/stack-manager/internal/metrics"
	"github.com/bcnelson/stack-manager/internal/ownership"
	"github.com/bcnelson/stack-manager/internal/params"
	"github.com/bcnelson/stack-manager/internal/tracing"
	"github.com/bcnelson/stack-manager/internal/validation"
)

// TemplateSource resolves the template of a stack.
type TemplateSource interface {
	URL(ctx context.Context, kind domain.Kind, subtype, version string) (string, error)
}

// Deps are the collaborators shared by every manager.
type Deps struct {
	Config         *config.Config
	CloudFormation backend.CloudFormationAPI
	Templates      TemplateSource
}

// StackManager manages the stacks of one kind on behalf of one caller. It
// holds no state between calls; every operation reads from the backend and
// issues at most one mutating call.
type StackManager struct {
	deps    Deps
	caller  domain.Caller
	kind    domain.Kind
	builder params.Builder
	filter  *ownership.Filter
}

// NewStackManager creates a manager. builder may be nil for read only
// managers, including managers of KindAny.
func NewStackManager(deps Deps, caller domain.Caller, kind domain.Kind, builder params.Builder) *StackManager {
	return &StackManager{
		deps:    deps,
		caller:  caller,
		kind:    kind,
		builder: builder,
		filter:  ownership.New(deps.Config.Tags, kind, caller.Group),
	}
}

// Kind returns the kind the manager manages.
func (m *StackManager) Kind() domain.Kind {
	return m.kind
}

// List returns the caller's stacks of the manager's kind projected to
// fields. Fields a stack does not carry are NotAvailable.
func (m *StackManager) List(ctx context.Context, fields []string) (result []map[string]any, err error) {
	ctx, finish := m.start(ctx, "list", "")
	defer func() { finish(err) }()

	if len(fields) == 0 {
		fields = domain.DefaultListFields
	}

	stacks, err := m.describeAll(ctx)
	if err != nil {
		return nil, backend.Translate(err)
	}

	logger := log.Ctx(ctx)
	result = make([]map[string]any, 0)
	for _, s := range stacks {
		tags := codec.TagsToMap(s.Tags)
		if v := m.filter.Check(tags); v != ownership.Allowed {
			logger.Debug().Str("stack", aws.ToString(s.StackName)).Stringer("verdict", v).Msg("stack filtered")
			continue
		}
		result = append(result, project(m.toDomain(s), fields))
	}
	return result, nil
}

// Describe returns a stack. A stack that does not exist, is not of the
// manager's kind, is not part of the platform or is owned by another group
// is reported as NoSuchObject, with the same message in every case.
func (m *StackManager) Describe(ctx context.Context, name string) (stack *domain.Stack, err error) {
	ctx, finish := m.start(ctx, "describe", name)
	defer func() { finish(err) }()

	s, err := m.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return m.toDomain(*s), nil
}

// HasPermissions reports whether the caller's group owns the stack with the
// given backend name. Any failure to read the stack denies.
func (m *StackManager) HasPermissions(ctx context.Context, stackName string) bool {
	s, err := m.describeOne(ctx, stackName)
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Str("stack", stackName).Msg("permission check failed, denying")
		return false
	}
	return m.filter.OwnedBy(codec.TagsToMap(s.Tags))
}

// lookup describes a stack and applies the ownership filter.
func (m *StackManager) lookup(ctx context.Context, name string) (*cftypes.Stack, error) {
	if err := validation.ValidateStackName(name, m.deps.Config.Platform.Prefix); err != nil {
		return nil, domain.InvalidInput("%v", err)
	}

	stackName := m.deps.Config.Platform.StackName(name)
	s, err := m.describeOne(ctx, stackName)
	if err != nil {
		err = backend.Translate(err)
		if errors.Is(err, domain.ErrNoSuchObject) {
			return nil, domain.NewError(domain.KindNoSuchObject, "", err)
		}
		return nil, err
	}

	if v := m.filter.Check(codec.TagsToMap(s.Tags)); v != ownership.Allowed {
		log.Ctx(ctx).Debug().Str("stack", stackName).Stringer("verdict", v).Msg("stack hidden from caller")
		return nil, domain.NewError(domain.KindNoSuchObject, "", nil)
	}
	return s, nil
}

func (m *StackManager) describeOne(ctx context.Context, stackName string) (*cftypes.Stack, error) {
	start := time.Now()
	out, err := m.deps.CloudFormation.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	metrics.ObserveBackendCall("DescribeStacks", start)
	if err != nil {
		return nil, err
	}
	if len(out.Stacks) == 0 {
		return nil, domain.NewError(domain.KindNoSuchObject, "", nil)
	}
	return &out.Stacks[0], nil
}

func (m *StackManager) describeAll(ctx context.Context) ([]cftypes.Stack, error) {
	var stacks []cftypes.Stack
	var token *string
	for {
		start := time.Now()
		out, err := m.deps.CloudFormation.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{NextToken: token})
		metrics.ObserveBackendCall("DescribeStacks", start)
		if err != nil {
			return nil, err
		}
		stacks = append(stacks, out.Stacks...)
		if aws.ToString(out.NextToken) == "" {
			return stacks, nil
		}
		token = out.NextToken
	}
}

// toDomain converts a backend stack, reading platform metadata from tags.
func (m *StackManager) toDomain(s cftypes.Stack) *domain.Stack {
	keys := m.deps.Config.Tags
	tags := codec.TagsToMap(s.Tags)
	stackName := aws.ToString(s.StackName)

	return &domain.Stack{
		Name:          m.deps.Config.Platform.TrimStackName(stackName),
		StackName:     stackName,
		StackID:       aws.ToString(s.StackId),
		Kind:          domain.Kind(tags[keys.Type]),
		Subtype:       tags[keys.Subtype],
		Version:       tags[keys.Version],
		OwnerGroup:    tags[keys.Groups],
		OwnerIdentity: tags[keys.Owner],
		Region:        tags[keys.Region],
		Status:        string(s.StackStatus),
		StatusReason:  aws.ToString(s.StackStatusReason),
		Description:   aws.ToString(s.Description),
		Parameters:    codec.ParameterValues(s.Parameters),
		Outputs:       codec.OutputsToMap(s.Outputs),
		Tags:          tags,
		CreatedAt:     s.CreationTime,
		UpdatedAt:     s.LastUpdatedTime,
	}
}

// tags builds the platform tag set of a stack.
func (m *StackManager) tags(subtype, version, identity string) map[string]string {
	keys := m.deps.Config.Tags
	return map[string]string{
		keys.Type:    string(m.kind),
		keys.Subtype: subtype,
		keys.Version: version,
		keys.Groups:  m.caller.Group,
		keys.Region:  m.deps.Config.Platform.Region,
		keys.Owner:   identity,
	}
}

func project(s *domain.Stack, fields []string) map[string]any {
	row := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := s.Field(f); ok {
			row[f] = v
		} else {
			row[f] = domain.NotAvailable
		}
	}
	return row
}

// start opens a span and returns a function that records the outcome of the
// operation in the span, the operation metrics and the log.
func (m *StackManager) start(ctx context.Context, operation, name string) (context.Context, func(error)) {
	ctx, span := tracing.Tracer().Start(ctx, "stack."+operation, trace.WithAttributes(
		attribute.String("stack.kind", string(m.kind)),
		attribute.String("stack.name", name),
		attribute.String("caller.group", m.caller.Group),
	))

	logger := log.Ctx(ctx).With().
		Str("kind", string(m.kind)).
		Str("operation", operation).
		Str("group", m.caller.Group).
		Logger()
	if name != "" {
		logger = logger.With().Str("stack", name).Logger()
	}
	ctx = logger.WithContext(ctx)

	return ctx, func(err error) {
		defer span.End()

		result := "ok"
		if err != nil {
			de := domain.AsError(err)
			result = string(de.Kind)
			span.RecordError(err)
			span.SetStatus(codes.Error, de.Message)
			logFailure(&logger, de)
		}
		metrics.OperationsTotal.WithLabelValues(string(m.kind), operation, result).Inc()
	}
}

// logFailure logs unknown failures with their full cause at error level and
// expected failures at debug level.
func logFailure(logger *zerolog.Logger, err *domain.Error) {
	if err.Kind == domain.KindUnknownError {
		logger.Error().Err(err.Err).Msg("operation failed")
		return
	}
	logger.Debug().Str("error_kind", string(err.Kind)).Err(err).Msg("operation rejected")
}
