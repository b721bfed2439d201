package service

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"

	"github.com/bcnelson/stack-manager/internal/backend"
	"github.com/bcnelson/stack-manager/internal/domain"
	"github.com/bcnelson/stack-manager/internal/metrics"
)

// Events returns the latest events of a stack the caller can see, newest
// first. At most the configured events limit is returned.
func (m *StackManager) Events(ctx context.Context, name string) (events []domain.StackEvent, err error) {
	ctx, finish := m.start(ctx, "events", name)
	defer func() { finish(err) }()

	s, err := m.lookup(ctx, name)
	if err != nil {
		return nil, err
	}

	limit := m.deps.Config.Platform.EventsLimit
	events = make([]domain.StackEvent, 0, limit)

	var token *string
	for len(events) < limit {
		start := time.Now()
		out, err := m.deps.CloudFormation.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{
			StackName: s.StackId,
			NextToken: token,
		})
		metrics.ObserveBackendCall("DescribeStackEvents", start)
		if err != nil {
			return nil, backend.Translate(err)
		}

		for _, e := range out.StackEvents {
			if len(events) == limit {
				break
			}
			events = append(events, domain.StackEvent{
				Name:      m.deps.Config.Platform.TrimStackName(aws.ToString(e.StackName)),
				Timestamp: aws.ToTime(e.Timestamp),
				Resource:  aws.ToString(e.LogicalResourceId),
				Status:    string(e.ResourceStatus),
				Message:   aws.ToString(e.ResourceStatusReason),
			})
		}

		if aws.ToString(out.NextToken) == "" {
			break
		}
		token = out.NextToken
	}
	return events, nil
}
