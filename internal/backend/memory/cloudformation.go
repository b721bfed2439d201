package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/google/uuid"
)

const (
	stackResourceType = "AWS::CloudFormation::Stack"
	priorityParameter = "Priority"
	pipelineOutput    = "PipelineName"
)

type stack struct {
	id           string
	name         string
	description  string
	status       cftypes.StackStatus
	reason       string
	templateURL  string
	parameters   map[string]string
	tags         []cftypes.Tag
	outputs      map[string]string
	capabilities []cftypes.Capability
	roleARN      string
	created      time.Time
	updated      *time.Time
	events       []cftypes.StackEvent
}

func (s *stack) addEvent(at time.Time, status cftypes.ResourceStatus, reason string) {
	s.events = append(s.events, cftypes.StackEvent{
		EventId:              aws.String(uuid.NewString()),
		StackId:              aws.String(s.id),
		StackName:            aws.String(s.name),
		LogicalResourceId:    aws.String(s.name),
		PhysicalResourceId:   aws.String(s.id),
		ResourceType:         aws.String(stackResourceType),
		ResourceStatus:       status,
		ResourceStatusReason: optional(reason),
		Timestamp:            aws.Time(at),
	})
}

// priority returns the listener rule priority the stack holds, if any.
// Stacks that rolled back their creation hold nothing.
func (s *stack) priority() (int, bool) {
	if s.status == cftypes.StackStatusRollbackComplete {
		return 0, false
	}
	p, err := strconv.Atoi(s.parameters[priorityParameter])
	if err != nil {
		return 0, false
	}
	return p, true
}

func (s *stack) toAPI() cftypes.Stack {
	params := make([]cftypes.Parameter, 0, len(s.parameters))
	for _, k := range slices.Sorted(maps.Keys(s.parameters)) {
		params = append(params, cftypes.Parameter{
			ParameterKey:   aws.String(k),
			ParameterValue: aws.String(s.parameters[k]),
		})
	}
	outputs := make([]cftypes.Output, 0, len(s.outputs))
	for _, k := range slices.Sorted(maps.Keys(s.outputs)) {
		outputs = append(outputs, cftypes.Output{
			OutputKey:   aws.String(k),
			OutputValue: aws.String(s.outputs[k]),
		})
	}

	return cftypes.Stack{
		StackId:           aws.String(s.id),
		StackName:         aws.String(s.name),
		Description:       optional(s.description),
		StackStatus:       s.status,
		StackStatusReason: optional(s.reason),
		CreationTime:      aws.Time(s.created),
		LastUpdatedTime:   s.updated,
		Parameters:        params,
		Outputs:           outputs,
		Tags:              slices.Clone(s.tags),
		Capabilities:      slices.Clone(s.capabilities),
		RoleARN:           optional(s.roleARN),
	}
}

// DescribeStacks implements the CloudFormation API.
func (b *Backend) DescribeStacks(_ context.Context, in *cloudformation.DescribeStacksInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if name := aws.ToString(in.StackName); name != "" {
		s, ok := b.lookup(name)
		if !ok {
			return nil, stackNotFound(name)
		}
		return &cloudformation.DescribeStacksOutput{Stacks: []cftypes.Stack{s.toAPI()}}, nil
	}

	names := slices.Sorted(maps.Keys(b.stacks))
	start, end, next, err := b.page(in.NextToken, len(names))
	if err != nil {
		return nil, err
	}

	out := &cloudformation.DescribeStacksOutput{NextToken: next}
	for _, name := range names[start:end] {
		out.Stacks = append(out.Stacks, b.stacks[name].toAPI())
	}
	return out, nil
}

// CreateStack implements the CloudFormation API.
func (b *Backend) CreateStack(_ context.Context, in *cloudformation.CreateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	name := aws.ToString(in.StackName)
	if name == "" {
		return nil, validationError("1 validation error detected: Value null at 'stackName' failed to satisfy constraint: Member must not be null")
	}
	if _, exists := b.stacks[name]; exists {
		return nil, &cftypes.AlreadyExistsException{Message: aws.String(fmt.Sprintf("Stack [%s] already exists", name))}
	}

	url := aws.ToString(in.TemplateURL)
	if url == "" && in.TemplateBody == nil {
		return nil, validationError("Either Template URL or Template Body must be specified.")
	}
	tmpl := b.template(url)

	if err := checkCapabilities(tmpl, in.Capabilities); err != nil {
		return nil, err
	}
	if len(b.stacks) >= limitStacks {
		return nil, &cftypes.LimitExceededException{Message: aws.String(fmt.Sprintf("Limit on the number of stacks has been exceeded (%d)", limitStacks))}
	}

	// A new stack has no previous values; reused parameters take the
	// template default, which the emulator models as an empty value.
	params := make(map[string]string)
	for _, p := range in.Parameters {
		params[aws.ToString(p.ParameterKey)] = aws.ToString(p.ParameterValue)
	}
	if err := checkParameters(tmpl, in.Parameters); err != nil {
		return nil, err
	}

	now := b.opts.Now()
	s := &stack{
		id:           b.newID("stack", name),
		name:         name,
		templateURL:  url,
		parameters:   params,
		tags:         slices.Clone(in.Tags),
		outputs:      maps.Clone(tmpl.Outputs),
		capabilities: slices.Clone(in.Capabilities),
		roleARN:      aws.ToString(in.RoleARN),
		created:      now,
	}
	if s.outputs == nil {
		s.outputs = make(map[string]string)
	}
	s.addEvent(now, cftypes.ResourceStatusCreateInProgress, "User Initiated")

	if p, taken := b.priorityTaken(s, ""); taken {
		s.status = cftypes.StackStatusRollbackComplete
		s.reason = "The following resource(s) failed to create: [ListenerRule]. Rollback requested by user."
		s.addEvent(now, cftypes.ResourceStatusCreateFailed, fmt.Sprintf("Priority '%d' is currently in use", p))
		s.addEvent(now, cftypes.ResourceStatus(cftypes.StackStatusRollbackComplete), "")
	} else {
		s.status = cftypes.StackStatusCreateComplete
		if tmpl.Pipeline {
			s.outputs[pipelineOutput] = b.createPipeline(name)
		}
		s.addEvent(now, cftypes.ResourceStatusCreateComplete, "")
	}

	b.stacks[name] = s
	return &cloudformation.CreateStackOutput{StackId: aws.String(s.id)}, nil
}

// UpdateStack implements the CloudFormation API.
func (b *Backend) UpdateStack(_ context.Context, in *cloudformation.UpdateStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	name := aws.ToString(in.StackName)
	s, ok := b.lookup(name)
	if !ok {
		return nil, stackNotFound(name)
	}
	if s.status == cftypes.StackStatusRollbackComplete {
		return nil, validationError("Stack:%s is in ROLLBACK_COMPLETE state and can not be updated.", s.id)
	}

	url := aws.ToString(in.TemplateURL)
	usePrevious := aws.ToBool(in.UsePreviousTemplate)
	switch {
	case usePrevious && url != "":
		return nil, validationError("You cannot specify both usePreviousTemplate and Template Body/Template URL.")
	case usePrevious:
		url = s.templateURL
	case url == "" && in.TemplateBody == nil:
		return nil, validationError("Either Template URL or Template Body must be specified.")
	}
	tmpl := b.template(url)

	if err := checkCapabilities(tmpl, in.Capabilities); err != nil {
		return nil, err
	}

	params := make(map[string]string)
	for _, p := range in.Parameters {
		key := aws.ToString(p.ParameterKey)
		if aws.ToBool(p.UsePreviousValue) {
			prev, ok := s.parameters[key]
			if !ok {
				return nil, validationError("Invalid input for parameter key %s. Cannot specify usePreviousValue as true for a parameter key not in the previous template", key)
			}
			params[key] = prev
			continue
		}
		params[key] = aws.ToString(p.ParameterValue)
	}
	if err := checkParameters(tmpl, in.Parameters); err != nil {
		return nil, err
	}

	tags := s.tags
	if in.Tags != nil {
		tags = in.Tags
	}

	if url == s.templateURL && maps.Equal(params, s.parameters) && slices.Equal(tagStrings(tags), tagStrings(s.tags)) {
		return nil, validationError("No updates are to be performed.")
	}

	candidate := *s
	candidate.parameters = params
	if p, taken := b.priorityTaken(&candidate, s.name); taken {
		return nil, validationError("Priority '%d' is currently in use", p)
	}

	now := b.opts.Now()
	s.addEvent(now, cftypes.ResourceStatusUpdateInProgress, "User Initiated")
	s.templateURL = url
	s.parameters = params
	s.tags = slices.Clone(tags)
	s.capabilities = slices.Clone(in.Capabilities)
	if in.RoleARN != nil {
		s.roleARN = aws.ToString(in.RoleARN)
	}
	s.status = cftypes.StackStatusUpdateComplete
	s.reason = ""
	s.updated = aws.Time(now)
	if tmpl.Pipeline && s.outputs[pipelineOutput] == "" {
		s.outputs[pipelineOutput] = b.createPipeline(s.name)
	}
	s.addEvent(now, cftypes.ResourceStatusUpdateComplete, "")

	return &cloudformation.UpdateStackOutput{StackId: aws.String(s.id)}, nil
}

// DeleteStack implements the CloudFormation API. Like CloudFormation it
// succeeds for stacks that do not exist.
func (b *Backend) DeleteStack(_ context.Context, in *cloudformation.DeleteStackInput, _ ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.lookup(aws.ToString(in.StackName)); ok {
		if name := s.outputs[pipelineOutput]; name != "" {
			delete(b.pipelines, name)
		}
		delete(b.stacks, s.name)
	}
	return &cloudformation.DeleteStackOutput{}, nil
}

// DescribeStackEvents implements the CloudFormation API. Events are returned
// newest first.
func (b *Backend) DescribeStackEvents(_ context.Context, in *cloudformation.DescribeStackEventsInput, _ ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	name := aws.ToString(in.StackName)
	s, ok := b.lookup(name)
	if !ok {
		return nil, stackNotFound(name)
	}

	events := slices.Clone(s.events)
	slices.Reverse(events)

	start, end, next, err := b.page(in.NextToken, len(events))
	if err != nil {
		return nil, err
	}
	return &cloudformation.DescribeStackEventsOutput{StackEvents: events[start:end], NextToken: next}, nil
}

// ListExports implements the CloudFormation API.
func (b *Backend) ListExports(_ context.Context, in *cloudformation.ListExportsInput, _ ...func(*cloudformation.Options)) (*cloudformation.ListExportsOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := slices.Sorted(maps.Keys(b.exports))
	start, end, next, err := b.page(in.NextToken, len(names))
	if err != nil {
		return nil, err
	}

	out := &cloudformation.ListExportsOutput{NextToken: next}
	for _, name := range names[start:end] {
		out.Exports = append(out.Exports, cftypes.Export{
			Name:  aws.String(name),
			Value: aws.String(b.exports[name]),
		})
	}
	return out, nil
}

const limitStacks = 2000

func (b *Backend) lookup(nameOrID string) (*stack, bool) {
	if s, ok := b.stacks[nameOrID]; ok {
		return s, true
	}
	for _, s := range b.stacks {
		if s.id == nameOrID {
			return s, true
		}
	}
	return nil, false
}

// priorityTaken reports whether the listener priority s asks for is held by
// another rule. The stack named self is ignored.
func (b *Backend) priorityTaken(s *stack, self string) (int, bool) {
	p, ok := s.priority()
	if !ok {
		return 0, false
	}
	if slices.Contains(b.rulePriorities, p) {
		return p, true
	}
	for name, other := range b.stacks {
		if name == self {
			continue
		}
		if op, ok := other.priority(); ok && op == p {
			return p, true
		}
	}
	return 0, false
}

func checkCapabilities(t Template, granted []cftypes.Capability) error {
	var missing []string
	for _, c := range t.Capabilities {
		if !slices.Contains(granted, c) {
			missing = append(missing, string(c))
		}
	}
	if len(missing) > 0 {
		return &cftypes.InsufficientCapabilitiesException{
			Message: aws.String(fmt.Sprintf("Requires capabilities : [%s]", strings.Join(missing, ", "))),
		}
	}
	return nil
}

func checkParameters(t Template, params []cftypes.Parameter) error {
	if t.Parameters == nil {
		return nil
	}
	var unknown []string
	for _, p := range params {
		if key := aws.ToString(p.ParameterKey); !slices.Contains(t.Parameters, key) {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		return validationError("Parameters: [%s] do not exist in the template", strings.Join(unknown, ", "))
	}
	return nil
}

func stackNotFound(name string) error {
	return validationError("Stack with id %s does not exist", name)
}

func tagStrings(tags []cftypes.Tag) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, aws.ToString(t.Key)+"="+aws.ToString(t.Value))
	}
	slices.Sort(out)
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
