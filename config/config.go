// Package config provides the configuration of the agent service.
package config

import (
	"github.com/cockroachdb/errors"
	"github.com/effective-security/cwagent/pkg/breaker"
	"github.com/effective-security/cwagent/pkg/retry"
	"github.com/effective-security/x/configloader"
	"github.com/effective-security/x/values"
	"github.com/go-playground/validator/v10"
)

// Config of the agent service
type Config struct {
	Server ServerConfig `json:"server" yaml:"server"`
	Agent  AgentConfig  `json:"agent" yaml:"agent"`
	MCP    MCPConfig    `json:"mcp" yaml:"mcp"`
	Redis  RedisConfig  `json:"redis" yaml:"redis"`
	Cache  CacheConfig  `json:"cache" yaml:"cache"`
}

// ServerConfig of the HTTP front end
type ServerConfig struct {
	Host  string `json:"host" yaml:"host"`
	Port  int    `json:"port" yaml:"port" validate:"min=1,max=65535"`
	Debug bool   `json:"debug,omitempty" yaml:"debug,omitempty"`
	// ShutdownTimeout bounds the graceful shutdown
	ShutdownTimeout Duration `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty"`
}

// AgentConfig is published in the agent card
type AgentConfig struct {
	Name         string   `json:"name" yaml:"name" validate:"required"`
	Description  string   `json:"description" yaml:"description"`
	Version      string   `json:"version" yaml:"version" validate:"required"`
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
}

// MCPConfig of the tool server connection
type MCPConfig struct {
	URL string `json:"url" yaml:"url" validate:"required,url"`
	// Transport is http or sse
	Transport      string   `json:"transport" yaml:"transport" validate:"oneof=http sse"`
	MaxConnections int      `json:"max_connections" yaml:"max_connections" validate:"min=1"`
	Timeout        Duration `json:"timeout" yaml:"timeout"`
	RetryAttempts  int      `json:"retry_attempts" yaml:"retry_attempts" validate:"min=1"`
	// BorrowTimeout bounds the wait for a pooled connection, 0 waits until the request is done
	BorrowTimeout Duration      `json:"borrow_timeout,omitempty" yaml:"borrow_timeout,omitempty"`
	Breaker       BreakerConfig `json:"breaker" yaml:"breaker"`
}

// BreakerConfig of the circuit breaker
type BreakerConfig struct {
	FailureThreshold int      `json:"failure_threshold" yaml:"failure_threshold" validate:"min=1"`
	SuccessThreshold int      `json:"success_threshold" yaml:"success_threshold" validate:"min=1"`
	Timeout          Duration `json:"timeout" yaml:"timeout"`
}

// RedisConfig of the state and cache store
type RedisConfig struct {
	// Disabled keeps the state in memory
	Disabled bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Host     string `json:"host" yaml:"host" validate:"required_without=Disabled"`
	Port     int    `json:"port" yaml:"port" validate:"min=0,max=65535"`
	DB       int    `json:"db" yaml:"db" validate:"min=0"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	// Prefix of all keys
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// CacheConfig of tool results
type CacheConfig struct {
	TTL Duration `json:"ttl" yaml:"ttl"`
	// Tools lists cacheable tools, defaults are used when empty
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// Default returns configuration with default values
func Default() *Config {
	cfg := new(Config)
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets values that are not configured
func (c *Config) SetDefaults() {
	s := &c.Server
	s.Host = values.StringsCoalesce(s.Host, "0.0.0.0")
	s.Port = values.NumbersCoalesce(s.Port, 8001)
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = Seconds(10)
	}

	a := &c.Agent
	a.Name = values.StringsCoalesce(a.Name, "CW Logistics Agent")
	a.Description = values.StringsCoalesce(a.Description,
		"Intelligent logistics agent for shipment tracking, routing, exception handling, and analytics")
	a.Version = values.StringsCoalesce(a.Version, "2.0.0")
	if len(a.Capabilities) == 0 {
		a.Capabilities = []string{
			"shipment-tracking",
			"route-optimization",
			"exception-handling",
			"analytics-reporting",
		}
	}

	m := &c.MCP
	m.URL = values.StringsCoalesce(m.URL, "http://localhost:8000")
	m.Transport = values.StringsCoalesce(m.Transport, "http")
	m.MaxConnections = values.NumbersCoalesce(m.MaxConnections, 10)
	m.RetryAttempts = values.NumbersCoalesce(m.RetryAttempts, 3)
	if m.Timeout == 0 {
		m.Timeout = Seconds(30)
	}
	m.Breaker.FailureThreshold = values.NumbersCoalesce(m.Breaker.FailureThreshold, 5)
	m.Breaker.SuccessThreshold = values.NumbersCoalesce(m.Breaker.SuccessThreshold, 2)
	if m.Breaker.Timeout == 0 {
		m.Breaker.Timeout = Seconds(60)
	}

	r := &c.Redis
	if !r.Disabled {
		r.Host = values.StringsCoalesce(r.Host, "localhost")
	}
	r.Port = values.NumbersCoalesce(r.Port, 6379)
	r.Prefix = values.StringsCoalesce(r.Prefix, "cwagent")

	if c.Cache.TTL == 0 {
		c.Cache.TTL = Seconds(3600)
	}
}

// Validate returns error if the configuration is invalid
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.WithMessage(err, "invalid configuration")
	}
	if c.MCP.Timeout < 0 || c.MCP.BorrowTimeout < 0 {
		return errors.New("invalid configuration: mcp timeouts must not be negative")
	}
	bc := c.MCP.BreakerConfig()
	if err := bc.Validate(); err != nil {
		return errors.WithMessage(err, "invalid mcp.breaker")
	}
	return nil
}

// RetryPolicy returns the retry policy of tool calls
func (c *MCPConfig) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = c.RetryAttempts
	return p
}

// BreakerConfig returns the circuit breaker configuration
func (c *MCPConfig) BreakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold: c.Breaker.FailureThreshold,
		SuccessThreshold: c.Breaker.SuccessThreshold,
		OpenTimeout:      c.Breaker.Timeout.Duration(),
	}
}

// Load returns configuration from the file.
// Values not present in the file are set to defaults.
func Load(file string) (*Config, error) {
	cfg := new(Config)
	if file != "" {
		if err := configloader.UnmarshalAndExpand(file, cfg); err != nil {
			return nil, errors.WithMessagef(err, "unable to load config %q", file)
		}
	}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
