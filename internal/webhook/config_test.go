package webhook

import (
	"testing"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/config"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", DefaultMaxBodySize, false},
		{"2048", 2048, false},
		{"64KB", 64 << 10, false},
		{"2mb", 2 << 20, false},
		{" 1 GB ", 1 << 30, false},
		{"0", 0, true},
		{"-5MB", 0, true},
		{"lots", 0, true},
		{"99999999999GB", 0, true},
	}
	for _, tt := range tests {
		got, err := parseByteSize(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseByteSize(%q) = %d, want error", tt.in, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("parseByteSize(%q) = %d, %v; want %d", tt.in, got, err, tt.want)
		}
	}
}

func TestFromConfigAppliesDefaults(t *testing.T) {
	cfg, err := FromConfig(&config.WebhooksConfig{
		Listen: "127.0.0.1:8081",
		Endpoints: []config.WebhookEndpoint{
			{Path: "/ingress/packets", Secret: "s"},
			{Path: "/ingress/raw", Secret: "t", Body: config.WebhookBodyLeaf, SignatureHeader: "X-Hub-Signature-256", MaxBodySize: "4KB"},
		},
	})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if cfg.Listen != "127.0.0.1:8081" || len(cfg.Endpoints) != 2 {
		t.Fatalf("cfg = %+v", cfg)
	}

	first := cfg.Endpoints[0]
	if first.Body != config.WebhookBodyOp || first.SignatureHeader != DefaultSignatureHeader || first.MaxBodySize != DefaultMaxBodySize {
		t.Errorf("defaults not applied: %+v", first)
	}
	second := cfg.Endpoints[1]
	if second.Body != config.WebhookBodyLeaf || second.SignatureHeader != "X-Hub-Signature-256" || second.MaxBodySize != 4096 {
		t.Errorf("explicit values lost: %+v", second)
	}

	if _, err := FromConfig(&config.WebhooksConfig{Endpoints: []config.WebhookEndpoint{{Path: "/x", Secret: "s", MaxBodySize: "big"}}}); err == nil {
		t.Error("FromConfig accepted an invalid max_body_size")
	}
	if _, err := FromConfig(nil); err == nil {
		t.Error("FromConfig(nil) = nil error")
	}
}
