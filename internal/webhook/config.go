package webhook

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/config"
)

const (
	DefaultMaxBodySize     = 1 << 20
	DefaultSignatureHeader = "X-Relayd-Signature"
)

// Config is the resolved ingress configuration.
type Config struct {
	Listen    string
	Endpoints []Endpoint
}

// Endpoint is one signed POST path.
type Endpoint struct {
	Path            string
	Secret          string
	SignatureHeader string
	Body            string
	MaxBodySize     int64
}

// FromConfig resolves defaults and byte sizes from the loaded config.
func FromConfig(wc *config.WebhooksConfig) (Config, error) {
	if wc == nil {
		return Config{}, fmt.Errorf("webhooks config is nil")
	}
	out := Config{Listen: wc.Listen, Endpoints: make([]Endpoint, 0, len(wc.Endpoints))}
	for _, ep := range wc.Endpoints {
		size, err := parseByteSize(ep.MaxBodySize)
		if err != nil {
			return Config{}, fmt.Errorf("webhook %s: max_body_size %q: %w", ep.Path, ep.MaxBodySize, err)
		}
		header := ep.SignatureHeader
		if header == "" {
			header = DefaultSignatureHeader
		}
		body := ep.Body
		if body == "" {
			body = config.WebhookBodyOp
		}
		out.Endpoints = append(out.Endpoints, Endpoint{
			Path:            ep.Path,
			Secret:          ep.Secret,
			SignatureHeader: header,
			Body:            body,
			MaxBodySize:     size,
		})
	}
	return out, nil
}

// parseByteSize reads "512", "64KB", "1MB" or "1GB". Empty means the default.
func parseByteSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return DefaultMaxBodySize, nil
	}

	mult := int64(1)
	for _, unit := range []struct {
		suffix string
		mult   int64
	}{{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}} {
		if strings.HasSuffix(s, unit.suffix) {
			mult = unit.mult
			s = strings.TrimSpace(strings.TrimSuffix(s, unit.suffix))
			break
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size: %w", err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}
	if n > (1<<62)/mult {
		return 0, fmt.Errorf("size too large")
	}
	return n * mult, nil
}
