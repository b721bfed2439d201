// Package platform reads shared platform settings: template locations, the
// shared load balancer listener and cross stack exports.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/bcnelson/stack-manager/internal/backend"
	"github.com/bcnelson/stack-manager/internal/config"
	"github.com/bcnelson/stack-manager/internal/domain"
	"github.com/bcnelson/stack-manager/internal/metrics"
)

// TemplateResolver maps (kind, subtype, version) to a template URL in the
// platform bucket.
type TemplateResolver struct {
	bucket string
	region string
	verify bool
	client backend.S3API
}

// NewTemplateResolver creates a template resolver. client may be nil when
// templates are not verified.
func NewTemplateResolver(cfg config.PlatformConfig, client backend.S3API) *TemplateResolver {
	return &TemplateResolver{
		bucket: cfg.Bucket,
		region: cfg.Region,
		verify: cfg.VerifyTemplates && client != nil,
		client: client,
	}
}

// Key returns the object key of a template.
func (r *TemplateResolver) Key(kind domain.Kind, subtype, version string) string {
	return fmt.Sprintf("cfn/%ss/%s-%s-%s.yaml", kind, kind, subtype, version)
}

// URL returns the template URL. With verification enabled a missing object
// is reported as invalid input.
func (r *TemplateResolver) URL(ctx context.Context, kind domain.Kind, subtype, version string) (string, error) {
	key := r.Key(kind, subtype, version)

	if r.verify {
		if err := r.check(ctx, key); err != nil {
			var nf *s3types.NotFound
			if errors.As(err, &nf) {
				return "", domain.InvalidInput("no template for %s %q version %q", kind, subtype, version)
			}
			return "", fmt.Errorf("checking template %s: %w", key, err)
		}
	}

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", r.bucket, r.region, key), nil
}

func (r *TemplateResolver) check(ctx context.Context, key string) error {
	defer metrics.ObserveBackendCall("HeadObject", time.Now())
	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	return err
}
