package gateway

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"clearline/internal/configstore"
	"clearline/internal/domain"
	"clearline/internal/engine"
	"clearline/internal/storage"
	"clearline/internal/storage/memory"
	"clearline/internal/validation"
)

type allowList map[domain.Address]bool

func (a allowList) IsAuthorizedNode(_ context.Context, node domain.Address) (bool, error) {
	return a[node], nil
}

func newTestServer(t *testing.T, auth Authorizer) (*httptest.Server, storage.KV) {
	t.Helper()
	ctx := context.Background()

	kv := memory.NewKV()
	t.Cleanup(func() { kv.Close() })
	cfg, err := configstore.Load(ctx, kv)
	if err != nil {
		t.Fatalf("load config store: %v", err)
	}
	eng, err := engine.New(engine.Options{
		State:     kv,
		Config:    cfg,
		Validator: validation.NewValidator(validation.Domain{ChainID: 1}, nil),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	srv := httptest.NewServer(NewServer(eng, auth, kv, DefaultConfig()).Handler())
	t.Cleanup(srv.Close)
	return srv, kv
}

func dial(t *testing.T, srv *httptest.Server, node domain.Address) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/submit"
	header := http.Header{}
	header.Set("X-Node-Address", node.String())
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	return dialer.Dial(url, header)
}

func TestUnauthorizedNodeIsRefused(t *testing.T) {
	srv, _ := newTestServer(t, allowList{})

	conn, resp, err := dial(t, srv, domain.Address{0x11})
	if err == nil {
		conn.Close()
		t.Fatal("handshake should fail for unauthorized node")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %v, want 403", resp)
	}
}

func TestMalformedNodeAddressIsRefused(t *testing.T) {
	srv, _ := newTestServer(t, allowList{})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/submit"
	header := http.Header{}
	header.Set("X-Node-Address", "not-an-address")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("handshake should fail for malformed address")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %v, want 400", resp)
	}
}

func TestSubmitOverWebsocket(t *testing.T) {
	node := domain.Address{0x11}
	srv, _ := newTestServer(t, allowList{node: true})

	conn, _, err := dial(t, srv, node)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// An empty submission is a no-op that still applies.
	if err := conn.WriteJSON(submitRequest{Window: 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp submitResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Status != domain.BundleStatusApplied {
		t.Fatalf("status = %q, want applied: %+v", resp.Status, resp)
	}

	// Garbage bytes are rejected but keep the connection alive.
	if err := conn.WriteJSON(submitRequest{Window: 3, Bundle: []byte("junk")}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Status != domain.BundleStatusRejected || resp.Error == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// A further submission still works on the same connection.
	if err := conn.WriteJSON(submitRequest{Window: 4}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Status != domain.BundleStatusApplied {
		t.Fatalf("status = %q, want applied", resp.Status)
	}

	if err := srvHealthz(srv); err != nil {
		t.Fatalf("healthz: %v", err)
	}
}

func TestClientSubmit(t *testing.T) {
	ctx := context.Background()
	node := domain.Address{0x22}
	srv, _ := newTestServer(t, allowList{node: true})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/submit"

	if _, err := Dial(ctx, url, domain.Address{0x33}, nil); err != ErrUnauthorizedNode {
		t.Fatalf("unauthorized dial err = %v, want ErrUnauthorizedNode", err)
	}

	c, err := Dial(ctx, url, node, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	res, err := c.Submit(ctx, 9, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Applied {
		t.Fatalf("empty bundle not applied: %+v", res)
	}

	res, err = c.Submit(ctx, 9, []byte("junk"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Applied || res.Reason == "" {
		t.Fatalf("junk bundle outcome: %+v", res)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := c.Submit(ctx, 10, nil); err == nil {
		t.Fatal("submit on closed client should fail")
	}
}

func TestStateRead(t *testing.T) {
	ctx := context.Background()
	srv, kv := newTestServer(t, allowList{})

	txn, err := kv.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := txn.Set(ctx, []byte("balance/x"), []byte{0xde, 0xad, 0xbe, 0xef}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	get := func(key string) (int, string) {
		t.Helper()
		resp, err := http.Get(srv.URL + "/v1/state?key=" + key)
		if err != nil {
			t.Fatalf("get state: %v", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, strings.TrimSpace(string(body))
	}

	code, body := get(hex.EncodeToString([]byte("balance/x")))
	if code != http.StatusOK || body != "deadbeef" {
		t.Fatalf("state read = %d %q, want 200 deadbeef", code, body)
	}

	if code, _ := get(hex.EncodeToString([]byte("no/such/key"))); code != http.StatusNotFound {
		t.Fatalf("missing key status = %d, want 404", code)
	}
	if code, _ := get("zz-not-hex"); code != http.StatusBadRequest {
		t.Fatalf("malformed key status = %d, want 400", code)
	}
	if code, _ := get(""); code != http.StatusBadRequest {
		t.Fatalf("empty key status = %d, want 400", code)
	}
}

func srvHealthz(srv *httptest.Server) error {
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
