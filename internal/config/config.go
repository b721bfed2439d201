package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Platform PlatformConfig
	Tags     TagConfig
	AWS      AWSConfig
	Auth     AuthConfig
	Log      LogConfig
	Tracing  TracingConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" envDefault:"8080"`
}

// PlatformConfig describes the platform the stacks are provisioned into.
type PlatformConfig struct {
	Prefix         string `env:"PLATFORM_PREFIX" envDefault:"gurum"`
	Region         string `env:"PLATFORM_REGION" envDefault:"eu-west-1"`
	DeploymentRole string `env:"PLATFORM_DEPLOYMENT_ROLE"`
	Bucket         string `env:"PLATFORM_BUCKET"`

	// VerifyTemplates makes the template resolver check that the template
	// object exists before a create or upgrade is issued.
	VerifyTemplates bool `env:"PLATFORM_VERIFY_TEMPLATES" envDefault:"false"`

	// The listener of the shared load balancer is read from a CloudFormation
	// export, or from a parameter store entry when ListenerParameter is set.
	ListenerExport    string `env:"PLATFORM_LISTENER_EXPORT"`
	ListenerParameter string `env:"PLATFORM_LISTENER_PARAMETER"`

	StackTimeout time.Duration `env:"PLATFORM_STACK_TIMEOUT" envDefault:"15m"`
	EventsLimit  int           `env:"PLATFORM_EVENTS_LIMIT" envDefault:"10"`
}

// TagConfig holds the tag keys written on and read from stacks. Empty keys
// default to "<prefix>-<name>".
type TagConfig struct {
	Type    string `env:"PLATFORM_TAGS_TYPE"`
	Subtype string `env:"PLATFORM_TAGS_SUBTYPE"`
	Version string `env:"PLATFORM_TAGS_VERSION"`
	Owner   string `env:"PLATFORM_TAGS_OWNER"`
	Region  string `env:"PLATFORM_TAGS_REGION"`
	Groups  string `env:"PLATFORM_TAGS_GROUPS"`
}

// AWSConfig holds AWS client configuration.
type AWSConfig struct {
	// Backend selects the provisioning backend: "aws" or "memory". The memory
	// backend emulates CloudFormation in process and is meant for local runs.
	Backend       string `env:"BACKEND" envDefault:"aws"`
	AssumeRoleARN string `env:"AWS_ASSUME_ROLE_ARN"`
	SessionName   string `env:"AWS_ROLE_SESSION_NAME" envDefault:"stack-manager"`
	EndpointURL   string `env:"AWS_ENDPOINT_URL"`
}

// AuthConfig holds caller authentication configuration.
type AuthConfig struct {
	// Mode is "oidc" (verify bearer tokens) or "header" (trust identity
	// headers set by an authenticating gateway).
	Mode               string `env:"AUTH_MODE" envDefault:"oidc"`
	IssuerURL          string `env:"OIDC_ISSUER_URL"`
	ClientID           string `env:"OIDC_CLIENT_ID"`
	GroupsClaim        string `env:"OIDC_GROUPS_CLAIM" envDefault:"groups"`
	RolesClaim         string `env:"OIDC_ROLES_CLAIM" envDefault:"roles"`
	AcceptAccessTokens bool   `env:"OIDC_ACCEPT_ACCESS_TOKENS" envDefault:"false"`
	EnforceRoles       bool   `env:"AUTH_ENFORCE_ROLES" envDefault:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
	JSON  bool   `env:"LOG_JSON" envDefault:"true"`
}

// TracingConfig holds OpenTelemetry configuration. Tracing is disabled when
// no endpoint is set.
type TracingConfig struct {
	Endpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure   bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"false"`
	SampleRate float64 `env:"OTEL_TRACES_SAMPLE_RATE" envDefault:"1"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(&cfg.Server); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := env.Parse(&cfg.Platform); err != nil {
		return nil, fmt.Errorf("parsing platform config: %w", err)
	}
	if err := env.Parse(&cfg.Tags); err != nil {
		return nil, fmt.Errorf("parsing tag config: %w", err)
	}
	if err := env.Parse(&cfg.AWS); err != nil {
		return nil, fmt.Errorf("parsing aws config: %w", err)
	}
	if err := env.Parse(&cfg.Auth); err != nil {
		return nil, fmt.Errorf("parsing auth config: %w", err)
	}
	if err := env.Parse(&cfg.Log); err != nil {
		return nil, fmt.Errorf("parsing log config: %w", err)
	}
	if err := env.Parse(&cfg.Tracing); err != nil {
		return nil, fmt.Errorf("parsing tracing config: %w", err)
	}

	cfg.Tags = cfg.Tags.WithDefaults(cfg.Platform.Prefix)

	return cfg, nil
}

// WithDefaults returns the tag keys with empty keys derived from prefix.
func (t TagConfig) WithDefaults(prefix string) TagConfig {
	def := func(v, name string) string {
		if v != "" {
			return v
		}
		return prefix + "-" + name
	}
	return TagConfig{
		Type:    def(t.Type, "product-type"),
		Subtype: def(t.Subtype, "product-flavor"),
		Version: def(t.Version, "platform-version"),
		Owner:   def(t.Owner, "owner"),
		Region:  def(t.Region, "region"),
		Groups:  def(t.Groups, "groups"),
	}
}

// Addr returns the server address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StackName returns the backend name of a caller supplied stack name.
func (c *PlatformConfig) StackName(name string) string {
	return c.Prefix + "-" + name
}

// TrimStackName strips the platform prefix from a backend stack name.
func (c *PlatformConfig) TrimStackName(stackName string) string {
	if trimmed, ok := strings.CutPrefix(stackName, c.Prefix+"-"); ok {
		return trimmed
	}
	return stackName
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Platform.Prefix == "" {
		return fmt.Errorf("PLATFORM_PREFIX is required")
	}
	if c.Platform.Region == "" {
		return fmt.Errorf("PLATFORM_REGION is required")
	}

	switch c.AWS.Backend {
	case "aws":
		if c.Platform.Bucket == "" {
			return fmt.Errorf("PLATFORM_BUCKET is required")
		}
		if c.Platform.DeploymentRole == "" {
			return fmt.Errorf("PLATFORM_DEPLOYMENT_ROLE is required")
		}
		if c.Platform.ListenerExport == "" && c.Platform.ListenerParameter == "" {
			return fmt.Errorf("PLATFORM_LISTENER_EXPORT or PLATFORM_LISTENER_PARAMETER is required")
		}
	case "memory":
	default:
		return fmt.Errorf("BACKEND must be one of aws, memory (got %q)", c.AWS.Backend)
	}

	switch c.Auth.Mode {
	case "oidc":
		if c.Auth.IssuerURL == "" {
			return fmt.Errorf("OIDC_ISSUER_URL is required when AUTH_MODE is oidc")
		}
		if c.Auth.ClientID == "" {
			return fmt.Errorf("OIDC_CLIENT_ID is required when AUTH_MODE is oidc")
		}
	case "header":
	default:
		return fmt.Errorf("AUTH_MODE must be one of oidc, header (got %q)", c.Auth.Mode)
	}

	if c.Platform.EventsLimit <= 0 {
		return fmt.Errorf("PLATFORM_EVENTS_LIMIT must be positive")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLE_RATE must be between 0 and 1")
	}

	return nil
}

// UseMemoryBackend returns true if stacks are emulated in process.
func (c *Config) UseMemoryBackend() bool {
	return c.AWS.Backend == "memory"
}
