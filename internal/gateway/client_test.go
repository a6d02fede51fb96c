package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type capturedRequest struct {
	envelope  map[string]any
	signature string
	auth      string
	body      []byte
}

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) (*Client, *[]capturedRequest) {
	t.Helper()

	var mu sync.Mutex
	var captured []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var env map[string]any
		_ = json.Unmarshal(body, &env)
		mu.Lock()
		captured = append(captured, capturedRequest{
			envelope:  env,
			signature: r.Header.Get(SignatureHeader),
			auth:      r.Header.Get("Authorization"),
			body:      body,
		})
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	seq := 0
	client, err := NewClient(Config{
		BaseURL:       srv.URL,
		MerchantID:    "merchant-1",
		APIKey:        "key-1",
		SigningSecret: "secret",
		Timeout:       timeout,
		HTTPClient:    srv.Client(),
		Now:           func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
		NewRequestID: func() string {
			seq++
			return "req-" + string(rune('0'+seq))
		},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, &captured
}

func TestClient_AuthorizeSendsSignedEnvelope(t *testing.T) {
	client, captured := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"responseCode":"2001","params":{"state":"APPROVED","transactionId":"T1"}}`))
	}, time.Second)

	res, err := client.Authorize(context.Background(), AuthorizeRequest{
		ReferenceID:  "ref-1",
		PayerAccount: "255712345678",
		Amount:       "120.00",
		Currency:     "TZS",
		Description:  "yearly plan",
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !res.Success || res.TransactionID != "T1" {
		t.Fatalf("unexpected result: %+v", res)
	}

	if len(*captured) != 1 {
		t.Fatalf("expected 1 request, got %d", len(*captured))
	}
	req := (*captured)[0]
	if req.envelope["operation"] != string(OpAuthorize) {
		t.Fatalf("unexpected operation: %v", req.envelope["operation"])
	}
	if req.envelope["requestId"] != "req-1" {
		t.Fatalf("unexpected request id: %v", req.envelope["requestId"])
	}
	params, _ := req.envelope["operationParams"].(map[string]any)
	if params["referenceId"] != "ref-1" || params["payerAccount"] != "255712345678" || params["amount"] != "120.00" {
		t.Fatalf("unexpected params: %+v", params)
	}
	creds, _ := req.envelope["merchantCredentials"].(map[string]any)
	if creds["merchantId"] != "merchant-1" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}
	if !Verify([]byte("secret"), req.body, req.signature) {
		t.Fatalf("signature does not verify")
	}
	if req.auth != "Bearer key-1" {
		t.Fatalf("unexpected authorization header %q", req.auth)
	}
}

func TestClient_FreshRequestIDPerCall(t *testing.T) {
	client, captured := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"responseCode":"2001","params":{"state":"APPROVED","transactionId":"T1"}}`))
	}, time.Second)

	if _, err := client.Commit(context.Background(), "T1", "commit"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := client.Cancel(context.Background(), "T1", "cancel"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if (*captured)[0].envelope["requestId"] == (*captured)[1].envelope["requestId"] {
		t.Fatalf("expected distinct request ids")
	}
	params, _ := (*captured)[1].envelope["operationParams"].(map[string]any)
	if params["gatewayTransactionId"] != "T1" {
		t.Fatalf("unexpected cancel params: %+v", params)
	}
}

func TestClient_HTMLErrorPageIsTransportFailure(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("<html><h1>Not Found</h1></html>"))
	}, time.Second)

	_, err := client.Authorize(context.Background(), AuthorizeRequest{ReferenceID: "ref-1"})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if te.Kind != KindHTTPStatus || te.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected transport error: %+v", te)
	}
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected wrapped malformed response")
	}
}

func TestClient_DeclineWithErrorStatusStillNormalized(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"responseCode":"5203","params":{"state":"FAILED"},"responseMsg":"insufficient funds"}`))
	}, time.Second)

	res, err := client.Authorize(context.Background(), AuthorizeRequest{ReferenceID: "ref-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.ResponseCode != CodeInsufficientFunds {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestClient_TimeoutIsClassified(t *testing.T) {
	release := make(chan struct{})
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 20*time.Millisecond)
	defer close(release)

	_, err := client.Commit(context.Background(), "T1", "commit")
	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	var te *TransportError
	if !errors.As(err, &te) || te.Op != OpCommit {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewClient_ValidatesConfig(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := NewClient(Config{BaseURL: "http://gw.local", MerchantID: "m", APIKey: "k", SigningSecret: "s"}); err == nil {
		t.Fatalf("expected timeout to be required")
	}
}
