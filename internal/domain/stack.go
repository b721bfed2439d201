package domain

import (
	"strings"
	"time"
)

// Kind is the resource kind a stack was created as. It is stored in the
// type tag and never changes after creation.
type Kind string

const (
	KindApplication Kind = "app"
	KindPipeline    Kind = "pipeline"
	KindService     Kind = "service"

	// KindAny matches every kind. Only used for cross-kind queries such as
	// stack events; stacks are never created with it.
	KindAny Kind = "any"
)

// Valid reports whether k is a kind a stack can be created as.
func (k Kind) Valid() bool {
	switch k {
	case KindApplication, KindPipeline, KindService:
		return true
	}
	return false
}

// DefaultSubtype returns the template flavor used when a request omits one.
func (k Kind) DefaultSubtype() string {
	switch k {
	case KindApplication:
		return "shared-lb"
	case KindPipeline:
		return "github"
	default:
		return "default"
	}
}

// DefaultVersion is the template version used when a request omits one.
const DefaultVersion = "latest"

// NotAvailable is the placeholder for fields requested in a listing that a
// stack does not carry.
const NotAvailable = "N/A"

// Stack is a platform stack as reported by the provisioning backend.
type Stack struct {
	Name          string            `json:"name"`
	StackName     string            `json:"stack_name"`
	StackID       string            `json:"stack_id,omitempty"`
	Kind          Kind              `json:"type"`
	Subtype       string            `json:"subtype,omitempty"`
	Version       string            `json:"version,omitempty"`
	OwnerGroup    string            `json:"owner_group,omitempty"`
	OwnerIdentity string            `json:"owner,omitempty"`
	Region        string            `json:"region,omitempty"`
	Status        string            `json:"status,omitempty"`
	StatusReason  string            `json:"status_reason,omitempty"`
	Description   string            `json:"description,omitempty"`
	Parameters    map[string]string `json:"parameters,omitempty"`
	Outputs       map[string]string `json:"outputs,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
	CreatedAt     *time.Time        `json:"created_at,omitempty"`
	UpdatedAt     *time.Time        `json:"updated_at,omitempty"`
}

// Field returns the value of a named field for list projections. Names are
// matched case-insensitively against the JSON field names; ok is false for
// unknown or empty fields.
func (s *Stack) Field(name string) (any, bool) {
	var v any
	switch strings.ToLower(name) {
	case "name":
		v = s.Name
	case "stack_name", "stackname":
		v = s.StackName
	case "stack_id", "stackid":
		v = s.StackID
	case "type", "kind":
		v = string(s.Kind)
	case "subtype":
		v = s.Subtype
	case "version":
		v = s.Version
	case "owner_group":
		v = s.OwnerGroup
	case "owner":
		v = s.OwnerIdentity
	case "region":
		v = s.Region
	case "status", "stackstatus":
		v = s.Status
	case "status_reason":
		v = s.StatusReason
	case "description":
		v = s.Description
	case "parameters":
		if len(s.Parameters) == 0 {
			return nil, false
		}
		v = s.Parameters
	case "outputs":
		if len(s.Outputs) == 0 {
			return nil, false
		}
		v = s.Outputs
	case "tags":
		if len(s.Tags) == 0 {
			return nil, false
		}
		v = s.Tags
	case "created_at":
		if s.CreatedAt == nil {
			return nil, false
		}
		v = *s.CreatedAt
	case "updated_at":
		if s.UpdatedAt == nil {
			return nil, false
		}
		v = *s.UpdatedAt
	default:
		return nil, false
	}
	if str, isStr := v.(string); isStr && str == "" {
		return nil, false
	}
	return v, true
}

// DefaultListFields are the fields returned by a listing when the caller does
// not ask for specific ones.
var DefaultListFields = []string{"name", "status", "version", "subtype"}

// StackRequest is the body of a create or update request. Kind specific
// sections are ignored by the other kinds.
type StackRequest struct {
	Name           string `json:"name"`
	Subtype        string `json:"subtype,omitempty"`
	Version        string `json:"version,omitempty"`
	UpgradeVersion bool   `json:"upgrade_version,omitempty"`

	// Application
	Tasks           *int    `json:"tasks,omitempty"`
	HealthCheckPath *string `json:"health_check_path,omitempty"`
	Image           *string `json:"image,omitempty"`

	// Pipeline
	Source       map[string]string `json:"source,omitempty"`
	Environments []string          `json:"environments,omitempty"`

	// Service
	Config map[string]string `json:"config,omitempty"`
}

// ApplyDefaults fills subtype and version for the given kind.
func (r *StackRequest) ApplyDefaults(kind Kind) {
	if r.Subtype == "" {
		r.Subtype = kind.DefaultSubtype()
	}
	if r.Version == "" {
		r.Version = DefaultVersion
	}
}

// Operation distinguishes create from update for parameter builders.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
)

// StackEvent is a single CloudFormation event of a stack.
type StackEvent struct {
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Resource  string    `json:"resource"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
}
