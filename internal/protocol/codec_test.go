package protocol

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/op"
)

func TestEncodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     *Request
		wantErr bool
		checkFn func(t *testing.T, output string)
	}{
		{
			name: "valid filter request",
			req: &Request{
				Protocol: 1,
				Method:   MethodFilterOps,
				Plugin:   "relayer-a",
				Ops: []Item{
					{ID: "op-1", Revision: 3, Op: op.LeafString("packet-42")},
				},
				DeadlineAt: time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC),
			},
			checkFn: func(t *testing.T, output string) {
				if !strings.Contains(output, `"protocol":1`) {
					t.Error("missing protocol field")
				}
				if !strings.Contains(output, `"method":"filterOps"`) {
					t.Error("missing method field")
				}
				if !strings.Contains(output, `"revision":3`) {
					t.Error("missing revision on op item")
				}
				if !strings.Contains(output, `"payload":"packet-42"`) {
					t.Error("missing leaf payload")
				}
			},
		},
		{
			name: "unsupported protocol version",
			req: &Request{
				Protocol: 2,
				Method:   MethodFilterOps,
			},
			wantErr: true,
		},
		{
			name: "unknown method",
			req: &Request{
				Protocol: 1,
				Method:   "poll",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := EncodeRequest(&buf, tt.req)

			if (err != nil) != tt.wantErr {
				t.Errorf("EncodeRequest() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && tt.checkFn != nil {
				tt.checkFn(t, buf.String())
			}
		})
	}
}

func TestDecodeRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := &Request{
		Protocol: 1,
		Method:   MethodProcessOps,
		Plugin:   "relayer-a",
		Ops: []Item{
			{ID: "op-1", Revision: 2, Tag: "relayer-a@packet-42", Op: op.Seq(op.LeafString("a"), op.LeafString("b"))},
		},
	}
	if err := EncodeRequest(&buf, in); err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}

	out, err := DecodeRequest(&buf)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if out.Ops[0].Tag != "relayer-a@packet-42" || !out.Ops[0].Op.Equal(in.Ops[0].Op) {
		t.Fatalf("unexpected decoded request: %#v", out)
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		checkFn func(t *testing.T, resp *Response)
	}{
		{
			name:  "ok with claims and proposals",
			input: `{"status":"ok","result":{"claims":[{"id":"op-1","key":"packet-42"}],"new":[{"op":{"kind":"leaf","payload":"proof-42"},"key":"proof"}]}}`,
			checkFn: func(t *testing.T, resp *Response) {
				if resp.Result == nil || len(resp.Result.Claims) != 1 {
					t.Fatalf("expected one claim, got %#v", resp.Result)
				}
				if resp.Result.Claims[0].Key != "packet-42" {
					t.Errorf("unexpected claim key %q", resp.Result.Claims[0].Key)
				}
				if len(resp.Result.New) != 1 || resp.Result.New[0].Op.Kind != op.KindLeaf {
					t.Errorf("unexpected proposals %#v", resp.Result.New)
				}
			},
		},
		{
			name:  "pluginName response",
			input: `{"status":"ok","name":"relayer-a"}`,
			checkFn: func(t *testing.T, resp *Response) {
				if resp.Name != "relayer-a" {
					t.Errorf("expected name relayer-a, got %q", resp.Name)
				}
				if !resp.Result.Empty() {
					t.Error("expected empty result")
				}
			},
		},
		{
			name:  "error with retry false",
			input: `{"status":"error","error":"tx rejected","retry":false}`,
			checkFn: func(t *testing.T, resp *Response) {
				if resp.ShouldRetry() {
					t.Error("expected retry=false")
				}
			},
		},
		{
			name:  "error defaults to retry",
			input: `{"status":"error","error":"rpc down"}`,
			checkFn: func(t *testing.T, resp *Response) {
				if !resp.ShouldRetry() {
					t.Error("expected retry default true")
				}
			},
		},
		{name: "missing status", input: `{"result":{}}`, wantErr: true},
		{name: "invalid status", input: `{"status":"maybe"}`, wantErr: true},
		{name: "error without message", input: `{"status":"error"}`, wantErr: true},
		{name: "unknown field rejected", input: `{"status":"ok","surprise":1}`, wantErr: true},
		{name: "invalid json", input: `{"status":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := DecodeResponse(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.checkFn != nil {
				tt.checkFn(t, resp)
			}
		})
	}
}

func TestDecodeResponseLenient(t *testing.T) {
	resp, raw, err := DecodeResponseLenient(strings.NewReader(`{"status":"ok","extra":true}`))
	if err != nil {
		t.Fatalf("DecodeResponseLenient: %v", err)
	}
	if resp.Status != "ok" || len(raw) == 0 {
		t.Fatalf("unexpected lenient decode: %#v %q", resp, raw)
	}

	_, raw, err = DecodeResponseLenient(strings.NewReader("not json"))
	if err == nil {
		t.Fatal("expected error for non-JSON output")
	}
	if string(raw) != "not json" {
		t.Errorf("expected raw output to be returned, got %q", raw)
	}

	if _, _, err := DecodeResponseLenient(strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty output")
	}
}

func TestEncodeResponseValidates(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeResponse(&buf, &Response{Status: "error"}); err == nil {
		t.Fatal("expected validation error")
	}
	if err := EncodeResponse(&buf, &Response{Status: "ok", Result: &Result{Ready: []op.ID{"op-1"}}}); err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	if !strings.Contains(buf.String(), `"ready":["op-1"]`) {
		t.Errorf("unexpected encoding %s", buf.String())
	}
}
