package priority

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"

	"github.com/bcnelson/stack-manager/internal/metrics"
)

// ELBv2Client defines the ELBv2 operations used to read listener rules.
type ELBv2Client interface {
	DescribeRules(ctx context.Context, params *elbv2.DescribeRulesInput, optFns ...func(*elbv2.Options)) (*elbv2.DescribeRulesOutput, error)
}

// RuleSource reads the priorities already used on a listener.
type RuleSource struct {
	client ELBv2Client
}

// NewRuleSource creates a rule source.
func NewRuleSource(client ELBv2Client) *RuleSource {
	return &RuleSource{client: client}
}

// Priorities returns the set of numeric priorities of the listener's rules.
// The default rule has no numeric priority and is skipped.
func (s *RuleSource) Priorities(ctx context.Context, listenerARN string) (map[int]struct{}, error) {
	priorities := make(map[int]struct{})

	var marker *string
	for {
		start := time.Now()
		out, err := s.client.DescribeRules(ctx, &elbv2.DescribeRulesInput{
			ListenerArn: aws.String(listenerARN),
			Marker:      marker,
		})
		metrics.ObserveBackendCall("DescribeRules", start)
		if err != nil {
			return nil, fmt.Errorf("describe rules of %s: %w", listenerARN, err)
		}

		for _, rule := range out.Rules {
			p, err := strconv.Atoi(aws.ToString(rule.Priority))
			if err != nil {
				continue
			}
			priorities[p] = struct{}{}
		}

		if aws.ToString(out.NextMarker) == "" {
			return priorities, nil
		}
		marker = out.NextMarker
	}
}
