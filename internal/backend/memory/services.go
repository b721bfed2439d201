package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// DescribeRules implements the ELBv2 API. The listener holds a default rule,
// the priorities added with AddRulePriority and one rule per stack that
// carries a Priority parameter.
func (b *Backend) DescribeRules(_ context.Context, in *elbv2.DescribeRulesInput, _ ...func(*elbv2.Options)) (*elbv2.DescribeRulesOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if arn := aws.ToString(in.ListenerArn); arn != b.opts.ListenerARN {
		return nil, &elbtypes.ListenerNotFoundException{Message: aws.String(fmt.Sprintf("Listener '%s' not found", arn))}
	}

	priorities := slices.Clone(b.rulePriorities)
	for _, s := range b.stacks {
		if p, ok := s.priority(); ok {
			priorities = append(priorities, p)
		}
	}
	slices.Sort(priorities)

	rules := []elbtypes.Rule{{
		RuleArn:   aws.String(b.opts.ListenerARN + "/default"),
		Priority:  aws.String("default"),
		IsDefault: aws.Bool(true),
	}}
	for _, p := range priorities {
		rules = append(rules, elbtypes.Rule{
			RuleArn:   aws.String(fmt.Sprintf("%s/rule-%d", b.opts.ListenerARN, p)),
			Priority:  aws.String(strconv.Itoa(p)),
			IsDefault: aws.Bool(false),
		})
	}

	start, end, next, err := b.page(in.Marker, len(rules))
	if err != nil {
		return nil, err
	}
	return &elbv2.DescribeRulesOutput{Rules: rules[start:end], NextMarker: next}, nil
}

// GetParametersByPath implements the SSM API.
func (b *Backend) GetParametersByPath(_ context.Context, in *ssm.GetParametersByPathInput, _ ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := strings.TrimSuffix(aws.ToString(in.Path), "/") + "/"
	recursive := aws.ToBool(in.Recursive)

	var names []string
	for _, name := range slices.Sorted(maps.Keys(b.parameters)) {
		rest, ok := strings.CutPrefix(name, path)
		if !ok || rest == "" {
			continue
		}
		if !recursive && strings.Contains(rest, "/") {
			continue
		}
		names = append(names, name)
	}

	start, end, next, err := b.page(in.NextToken, len(names))
	if err != nil {
		return nil, err
	}

	out := &ssm.GetParametersByPathOutput{NextToken: next}
	for _, name := range names[start:end] {
		out.Parameters = append(out.Parameters, ssmtypes.Parameter{
			Name:  aws.String(name),
			Value: aws.String(b.parameters[name]),
			Type:  ssmtypes.ParameterTypeString,
		})
	}
	return out, nil
}

// HeadObject implements the S3 API.
func (b *Backend) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]; !ok {
		return nil, &s3types.NotFound{Message: aws.String("Not Found")}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(0)}, nil
}

// GetCallerIdentity implements the STS API.
func (b *Backend) GetCallerIdentity(_ context.Context, _ *sts.GetCallerIdentityInput, _ ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(b.opts.AccountID),
		Arn:     aws.String(fmt.Sprintf("arn:aws:sts::%s:assumed-role/stack-manager/memory", b.opts.AccountID)),
		UserId:  aws.String("AROAMEMORY:memory"),
	}, nil
}
