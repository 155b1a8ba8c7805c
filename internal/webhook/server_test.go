package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/config"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/dispatch"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/op"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/queue"
)

const secret = "test-secret"

type recordingQueue struct {
	got []op.Op
	err error
}

func (q *recordingQueue) Enqueue(_ context.Context, o op.Op) (*queue.Entry, error) {
	if q.err != nil {
		return nil, q.err
	}
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", dispatch.ErrInvalidOp, err)
	}
	q.got = append(q.got, o)
	return &queue.Entry{ID: op.ID(fmt.Sprintf("op-%d", len(q.got))), Revision: 1, Op: o}, nil
}

func newTestServer(q Enqueuer) *Server {
	return New(Config{
		Listen: "127.0.0.1:0",
		Endpoints: []Endpoint{
			{Path: "/ingress/ops", Secret: secret},
			{Path: "/ingress/raw", Secret: secret, Body: config.WebhookBodyLeaf, SignatureHeader: "X-Hub-Signature-256", MaxBodySize: 256},
		},
	}, q, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func post(t *testing.T, s *Server, path, header string, body []byte, sig string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if sig != "" {
		req.Header.Set(header, sig)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestWebhookEnqueuesSignedOperation(t *testing.T) {
	q := &recordingQueue{}
	s := newTestServer(q)

	body := []byte(`{"kind":"seq","children":[{"kind":"leaf","payload":"packet-1"}]}`)
	rec := post(t, s, "/ingress/ops", DefaultSignatureHeader, body, Sign(body, secret))

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp AcceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, op.ID("op-1"), resp.ID)
	assert.Equal(t, uint64(1), resp.Revision)

	require.Len(t, q.got, 1)
	assert.Equal(t, op.KindSeq, q.got[0].Kind)
}

func TestWebhookWrapsLeafBody(t *testing.T) {
	q := &recordingQueue{}
	s := newTestServer(q)

	body := []byte(`{"chain_id":"osmosis-1","msgs":[{"packet":{"source_channel":"channel-0","sequence":9}}]}`)
	rec := post(t, s, "/ingress/raw", "X-Hub-Signature-256", body, Sign(body, secret))

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, q.got, 1)
	assert.True(t, q.got[0].IsLeaf())
	assert.JSONEq(t, string(body), string(q.got[0].Payload))
}

func TestWebhookRejectsBadSignatures(t *testing.T) {
	q := &recordingQueue{}
	s := newTestServer(q)
	body := []byte(`{"kind":"leaf","payload":"packet-1"}`)

	tests := []struct {
		name   string
		header string
		sig    string
	}{
		{"missing", DefaultSignatureHeader, ""},
		{"wrong secret", DefaultSignatureHeader, Sign(body, "nope")},
		{"wrong header", "X-Other", Sign(body, secret)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, s, "/ingress/ops", tt.header, body, tt.sig)
			assert.Equal(t, http.StatusForbidden, rec.Code)
			assert.JSONEq(t, `{"error":"forbidden"}`, rec.Body.String())
		})
	}
	assert.Empty(t, q.got)
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	q := &recordingQueue{}
	s := newTestServer(q)

	body := []byte(`"` + strings.Repeat("x", 300) + `"`)
	rec := post(t, s, "/ingress/raw", "X-Hub-Signature-256", body, Sign(body, secret))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, q.got)
}

func TestWebhookRejectsInvalidBodies(t *testing.T) {
	q := &recordingQueue{}
	s := newTestServer(q)

	tests := []struct {
		name   string
		path   string
		header string
		body   string
	}{
		{"unknown field", "/ingress/ops", DefaultSignatureHeader, `{"kind":"leaf","payload":"x","bogus":1}`},
		{"invalid tree", "/ingress/ops", DefaultSignatureHeader, `{"kind":"seq"}`},
		{"leaf not json", "/ingress/raw", "X-Hub-Signature-256", `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := []byte(tt.body)
			rec := post(t, s, tt.path, tt.header, body, Sign(body, secret))
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
	assert.Empty(t, q.got)
}

func TestWebhookStoreFailureIs500(t *testing.T) {
	q := &recordingQueue{err: errors.New("disk full")}
	s := newTestServer(q)

	body := []byte(`{"kind":"leaf","payload":"packet-1"}`)
	rec := post(t, s, "/ingress/ops", DefaultSignatureHeader, body, Sign(body, secret))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk full")
}

func TestWebhookUnknownPathIs404(t *testing.T) {
	s := newTestServer(&recordingQueue{})
	body := []byte(`{}`)
	rec := post(t, s, "/ingress/other", DefaultSignatureHeader, body, Sign(body, secret))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
