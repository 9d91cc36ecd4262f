package invoker

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/cwagent/mcp/httpclient"
	"github.com/effective-security/cwagent/mcp/sseclient"
	"github.com/effective-security/cwagent/pool"
)

// Transport names
const (
	TransportHTTP = "http"
	TransportSSE  = "sse"
)

// TransportConfig selects and configures the transport of pool slots
type TransportConfig struct {
	// Kind is http or sse, http is used when empty
	Kind    string
	BaseURL string
	// Timeout of a single request, transport default when 0
	Timeout time.Duration
}

// NewTransportFactory returns factory of pool slot transports.
// Every slot gets its own client, so an sse slot owns its session.
func NewTransportFactory(cfg TransportConfig) (pool.Factory, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("tool server URL is required")
	}

	switch cfg.Kind {
	case "", TransportHTTP:
		hc := httpclient.Config{
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}
		return func() pool.Transport {
			return httpclient.New(hc)
		}, nil
	case TransportSSE:
		sc := sseclient.Config{
			BaseURL:         cfg.BaseURL,
			ResponseTimeout: cfg.Timeout,
		}
		return func() pool.Transport {
			return sseclient.New(sc)
		}, nil
	default:
		return nil, errors.Errorf("unsupported transport: %q", cfg.Kind)
	}
}
