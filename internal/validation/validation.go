// Package validation checks caller supplied stack names and request bodies
// before anything is sent to the provisioning backend.
package validation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bcnelson/stack-manager/internal/domain"
)

// MaxStackNameLength is the CloudFormation limit on stack names, including
// the platform prefix.
const MaxStackNameLength = 128

// MaxParameterKeyLength is the CloudFormation limit on parameter names.
const MaxParameterKeyLength = 255

// MaxEnvironments is the number of environments a pipeline can deploy to.
const MaxEnvironments = 3

// isAlpha returns true if the byte is an ASCII letter.
func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// isNum returns true if the byte is an ASCII digit.
func isNum(b byte) bool {
	return b >= '0' && b <= '9'
}

// isAlphaNum returns true if the byte is an ASCII letter or digit.
func isAlphaNum(b byte) bool {
	return isAlpha(b) || isNum(b)
}

// ValidateStackName validates a caller supplied stack name. The name must
// start with a letter, contain only letters, numbers or hyphens, and fit the
// backend limit once prefixed.
func ValidateStackName(name, prefix string) error {
	if name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if !isAlpha(name[0]) {
		return fmt.Errorf("name must start with a letter")
	}
	for _, b := range []byte(name) {
		if !isAlphaNum(b) && b != '-' {
			return fmt.Errorf("names can only contain letters, numbers, or hyphens")
		}
	}
	if n := len(prefix) + 1 + len(name); n > MaxStackNameLength {
		return fmt.Errorf("name is too long: %d characters with prefix, maximum is %d", n, MaxStackNameLength)
	}
	return nil
}

// ValidateTemplateSegment validates a subtype or version. Both become part
// of a template object key.
func ValidateTemplateSegment(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	for _, b := range []byte(value) {
		if !isAlphaNum(b) && b != '-' && b != '.' && b != '_' {
			return fmt.Errorf("%s can only contain letters, numbers, '.', '_' or '-'", field)
		}
	}
	return nil
}

// ValidateParameterKey validates a template parameter name.
func ValidateParameterKey(key string) error {
	if key == "" {
		return fmt.Errorf("parameter name must not be empty")
	}
	if len(key) > MaxParameterKeyLength {
		return fmt.Errorf("parameter name must be at most %d characters", MaxParameterKeyLength)
	}
	for _, b := range []byte(key) {
		if !isAlphaNum(b) {
			return fmt.Errorf("parameter names can only contain letters and numbers")
		}
	}
	return nil
}

// ValidateHealthCheckPath validates a load balancer health check path.
func ValidateHealthCheckPath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("health check path must start with '/'")
	}
	if strings.ContainsAny(path, " \t\n") {
		return fmt.Errorf("health check path must not contain whitespace")
	}
	return nil
}

// ValidateImage validates a container image reference.
func ValidateImage(image string) error {
	if image == "" {
		return fmt.Errorf("image must not be empty")
	}
	if strings.ContainsAny(image, " \t\n") {
		return fmt.Errorf("image must not contain whitespace")
	}
	return nil
}

// ValidateApprovalStatus validates the result of a manual approval.
func ValidateApprovalStatus(status string) error {
	switch status {
	case "Approved", "Rejected":
		return nil
	}
	return fmt.Errorf("status must be Approved or Rejected")
}

// ValidateRequest validates a create or update request of the given kind.
// Defaults must already be applied. Fields of other kinds are ignored.
func ValidateRequest(kind domain.Kind, op domain.Operation, req domain.StackRequest, prefix string) error {
	var errs ValidationErrors

	if op == domain.OperationCreate {
		if err := ValidateStackName(req.Name, prefix); err != nil {
			errs.Add("name", req.Name, err.Error())
		}
	}
	if err := ValidateTemplateSegment("subtype", req.Subtype); err != nil {
		errs.Add("subtype", req.Subtype, err.Error())
	}
	if err := ValidateTemplateSegment("version", req.Version); err != nil {
		errs.Add("version", req.Version, err.Error())
	}

	switch kind {
	case domain.KindApplication:
		if req.Tasks != nil && *req.Tasks < 0 {
			errs.Add("tasks", strconv.Itoa(*req.Tasks), "tasks must not be negative")
		}
		if req.HealthCheckPath != nil {
			if err := ValidateHealthCheckPath(*req.HealthCheckPath); err != nil {
				errs.Add("health_check_path", *req.HealthCheckPath, err.Error())
			}
		}
		if req.Image != nil {
			if err := ValidateImage(*req.Image); err != nil {
				errs.Add("image", *req.Image, err.Error())
			}
		}

	case domain.KindPipeline:
		if len(req.Environments) > MaxEnvironments {
			errs.Add("environments", strings.Join(req.Environments, ","),
				fmt.Sprintf("a pipeline deploys to at most %d environments", MaxEnvironments))
		}
		if op == domain.OperationCreate && len(req.Environments) == 0 {
			errs.Add("environments", "", "a pipeline needs at least one environment")
		}
		for _, env := range req.Environments {
			if err := ValidateStackName(env, prefix); err != nil {
				errs.Add("environments", env, err.Error())
			}
		}
		for key := range req.Source {
			if err := ValidateParameterKey(key); err != nil {
				errs.Add("source", key, err.Error())
			}
		}

	case domain.KindService:
		for key := range req.Config {
			if err := ValidateParameterKey(key); err != nil {
				errs.Add("config", key, err.Error())
			}
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
