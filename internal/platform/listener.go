package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/bcnelson/stack-manager/internal/backend"
	"github.com/bcnelson/stack-manager/internal/config"
	"github.com/bcnelson/stack-manager/internal/metrics"
)

// Exports returns all cross stack exports of the account and region.
func Exports(ctx context.Context, client backend.CloudFormationAPI) (map[string]string, error) {
	exports := make(map[string]string)

	var token *string
	for {
		start := time.Now()
		out, err := client.ListExports(ctx, &cloudformation.ListExportsInput{NextToken: token})
		metrics.ObserveBackendCall("ListExports", start)
		if err != nil {
			return nil, fmt.Errorf("list exports: %w", err)
		}
		for _, e := range out.Exports {
			exports[aws.ToString(e.Name)] = aws.ToString(e.Value)
		}
		if aws.ToString(out.NextToken) == "" {
			return exports, nil
		}
		token = out.NextToken
	}
}

// ParameterStore reads the platform's parameter store namespace.
type ParameterStore struct {
	client backend.SSMAPI
	prefix string
}

// NewParameterStore creates a parameter store reader for "/<prefix>".
func NewParameterStore(client backend.SSMAPI, prefix string) *ParameterStore {
	return &ParameterStore{client: client, prefix: prefix}
}

// Parameters returns every parameter below the platform namespace keyed by
// its full name.
func (p *ParameterStore) Parameters(ctx context.Context) (map[string]string, error) {
	params := make(map[string]string)

	var token *string
	for {
		start := time.Now()
		out, err := p.client.GetParametersByPath(ctx, &ssm.GetParametersByPathInput{
			Path:           aws.String("/" + p.prefix),
			Recursive:      aws.Bool(true),
			WithDecryption: aws.Bool(false),
			NextToken:      token,
		})
		metrics.ObserveBackendCall("GetParametersByPath", start)
		if err != nil {
			return nil, fmt.Errorf("get parameters under /%s: %w", p.prefix, err)
		}
		for _, param := range out.Parameters {
			params[aws.ToString(param.Name)] = aws.ToString(param.Value)
		}
		if aws.ToString(out.NextToken) == "" {
			return params, nil
		}
		token = out.NextToken
	}
}

// Get returns a single parameter. name may be absolute or relative to the
// platform namespace.
func (p *ParameterStore) Get(ctx context.Context, name string) (string, error) {
	name = ParameterName(p.prefix, name)
	params, err := p.Parameters(ctx)
	if err != nil {
		return "", err
	}
	v, ok := params[name]
	if !ok {
		return "", fmt.Errorf("parameter %s not found", name)
	}
	return v, nil
}

// ParameterName returns the absolute name of a parameter that may be
// relative to the namespace of prefix.
func ParameterName(prefix, name string) string {
	if strings.HasPrefix(name, "/") {
		return name
	}
	return "/" + prefix + "/" + name
}

// ListenerResolver finds the listener of the shared load balancer.
type ListenerResolver struct {
	cfn        backend.CloudFormationAPI
	params     *ParameterStore
	exportName string
	paramName  string
}

// NewListenerResolver creates a listener resolver. The parameter store is
// used when a listener parameter is configured, exports otherwise.
func NewListenerResolver(cfg config.PlatformConfig, cfn backend.CloudFormationAPI, params *ParameterStore) *ListenerResolver {
	return &ListenerResolver{
		cfn:        cfn,
		params:     params,
		exportName: cfg.ListenerExport,
		paramName:  cfg.ListenerParameter,
	}
}

// ListenerARN returns the listener ARN.
func (r *ListenerResolver) ListenerARN(ctx context.Context) (string, error) {
	if r.paramName != "" {
		return r.params.Get(ctx, r.paramName)
	}

	exports, err := Exports(ctx, r.cfn)
	if err != nil {
		return "", err
	}
	arn, ok := exports[r.exportName]
	if !ok {
		return "", fmt.Errorf("export %q not found", r.exportName)
	}
	return arn, nil
}
