// Package memory emulates the AWS services used by the stack manager in
// process. It is used by tests and by local runs with BACKEND=memory.
//
// Operations complete synchronously: a created stack is CREATE_COMPLETE as
// soon as CreateStack returns. Failures are reported with the same error
// codes and messages the real services use, so the backend error mapper can
// be exercised against it.
package memory

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/bcnelson/stack-manager/internal/backend"
)

const defaultPageSize = 100

// Template describes what the emulator knows about a template URL.
type Template struct {
	// Parameters lists the parameters the template declares. A nil list
	// accepts any parameter.
	Parameters []string

	// Capabilities that must be acknowledged to create the stack.
	Capabilities []cftypes.Capability

	// Outputs are copied to every stack created from the template.
	Outputs map[string]string

	// Pipeline makes each stack own a delivery pipeline, exposed through the
	// PipelineName output.
	Pipeline bool
}

// Options configures a Backend.
type Options struct {
	Region      string
	AccountID   string
	ListenerARN string
	PageSize    int
	Now         func() time.Time
}

// Backend is an in-process emulation of CloudFormation, ELBv2, SSM, S3,
// CodePipeline and STS. It is safe for concurrent use.
type Backend struct {
	mu   sync.Mutex
	opts Options

	stacks          map[string]*stack
	templates       map[string]Template
	defaultTemplate Template
	exports         map[string]string
	rulePriorities  []int
	parameters      map[string]string
	objects         map[string]struct{}
	pipelines       map[string]*pipeline
}

// New creates an empty backend.
func New(opts Options) *Backend {
	if opts.Region == "" {
		opts.Region = "eu-west-1"
	}
	if opts.AccountID == "" {
		opts.AccountID = "000000000000"
	}
	if opts.ListenerARN == "" {
		opts.ListenerARN = fmt.Sprintf("arn:aws:elasticloadbalancing:%s:%s:listener/app/shared/0000000000000000/0000000000000000",
			opts.Region, opts.AccountID)
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Backend{
		opts:       opts,
		stacks:     make(map[string]*stack),
		templates:  make(map[string]Template),
		exports:    make(map[string]string),
		parameters: make(map[string]string),
		objects:    make(map[string]struct{}),
		pipelines:  make(map[string]*pipeline),
	}
}

// Clients returns the backend as a full client set.
func (b *Backend) Clients() *backend.Clients {
	return &backend.Clients{
		CloudFormation: b,
		ELBv2:          b,
		SSM:            b,
		S3:             b,
		CodePipeline:   b,
		STS:            b,
	}
}

// ListenerARN returns the ARN of the emulated shared listener.
func (b *Backend) ListenerARN() string {
	return b.opts.ListenerARN
}

// RegisterTemplate declares a template URL.
func (b *Backend) RegisterTemplate(url string, t Template) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.templates[url] = t
}

// SetDefaultTemplate sets the template used for unregistered URLs.
func (b *Backend) SetDefaultTemplate(t Template) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.defaultTemplate = t
}

// SetExport sets a cross stack export.
func (b *Backend) SetExport(name, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exports[name] = value
}

// AddRulePriority adds a listener rule that is not owned by any stack.
func (b *Backend) AddRulePriority(priorities ...int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rulePriorities = append(b.rulePriorities, priorities...)
}

// SetParameter stores a parameter store value.
func (b *Backend) SetParameter(name, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parameters[name] = value
}

// PutObject stores an empty object.
func (b *Backend) PutObject(bucket, key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[bucket+"/"+key] = struct{}{}
}

// SetStackStatus overrides the status of a stack, e.g. to simulate a failed
// creation.
func (b *Backend) SetStackStatus(name string, status cftypes.StackStatus, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.stacks[name]
	if !ok {
		return stackNotFound(name)
	}
	s.status = status
	s.reason = reason
	s.addEvent(b.opts.Now(), cftypes.ResourceStatus(status), reason)
	return nil
}

func (b *Backend) template(url string) Template {
	if t, ok := b.templates[url]; ok {
		return t
	}
	return b.defaultTemplate
}

func (b *Backend) newID(kind, name string) string {
	return fmt.Sprintf("arn:aws:cloudformation:%s:%s:%s/%s/%s", b.opts.Region, b.opts.AccountID, kind, name, uuid.NewString())
}

// page returns the window of n items starting at token and the token of the
// next window.
func (b *Backend) page(token *string, n int) (start, end int, next *string, err error) {
	if t := aws.ToString(token); t != "" {
		start, err = strconv.Atoi(t)
		if err != nil || start < 0 || start > n {
			return 0, 0, nil, validationError("Invalid NextToken")
		}
	}
	end = min(start+b.opts.PageSize, n)
	if end < n {
		next = aws.String(strconv.Itoa(end))
	}
	return start, end, next, nil
}

func validationError(format string, args ...any) error {
	return &smithy.GenericAPIError{
		Code:    "ValidationError",
		Message: fmt.Sprintf(format, args...),
		Fault:   smithy.FaultClient,
	}
}
