package proxy

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"

	"github.com/nulpointcorp/llm-router/internal/metrics"
	"github.com/nulpointcorp/llm-router/internal/policy"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

// serveWithRoutes starts the gateway with the given management routes on an
// in-memory listener.
func serveWithRoutes(t *testing.T, gw *Gateway, mgmt *ManagementRoutes) (*http.Client, func()) {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()

	go func() {
		_ = fasthttp.Serve(ln, gw.Handler(mgmt))
	}()

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return ln.Dial()
			},
		},
	}

	return client, func() { ln.Close() }
}

func doGet(t *testing.T, client *http.Client, path string) *http.Response {
	t.Helper()
	resp, err := client.Get("http://test" + path)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

// --- handleHealth -----------------------------------------------------------

func TestHandleHealth(t *testing.T) {
	gw, _ := newTestGateway(t, policy.Default())

	ctx := &fasthttp.RequestCtx{}
	gw.handleHealth(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Errorf("expected 200, got %d", ctx.Response.StatusCode())
	}

	var resp map[string]any
	if err := json.Unmarshal(ctx.Response.Body(), &resp); err != nil {
		t.Fatalf("failed to parse health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status=ok, got %v", resp["status"])
	}
	if _, ok := resp["version"]; !ok {
		t.Error("expected version in health response")
	}
}

// --- route table ---------------------------------------------------------------

func TestHandler_UnknownRoute(t *testing.T) {
	gw, _ := newTestGateway(t, policy.Default())
	client, cleanup := serveGateway(t, gw)
	defer cleanup()

	resp := doGet(t, client, "/nope")
	readBody(t, resp)

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	gw, _ := newTestGateway(t, policy.Default())
	client, cleanup := serveGateway(t, gw)
	defer cleanup()

	resp := doGet(t, client, "/v1/chat/completions")
	readBody(t, resp)

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}

func TestHandler_MetricsRouteAbsentByDefault(t *testing.T) {
	gw, _ := newTestGateway(t, policy.Default())
	client, cleanup := serveGateway(t, gw)
	defer cleanup()

	resp := doGet(t, client, "/metrics")
	readBody(t, resp)

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 without management routes, got %d", resp.StatusCode)
	}
}

func TestHandler_MetricsRouteWhenConfigured(t *testing.T) {
	gw, _ := newTestGateway(t, policy.Default())

	reg := metrics.New()
	reg.SetBuildInfo("test")

	client, cleanup := serveWithRoutes(t, gw, &ManagementRoutes{Metrics: reg.Handler()})
	defer cleanup()

	resp := doGet(t, client, "/metrics")
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !containsStr(string(body), "router_build_info") {
		t.Error("expected router_build_info in metrics exposition")
	}
}

// --- lifecycle ------------------------------------------------------------------

func TestShutdown_BeforeStart(t *testing.T) {
	gw, _ := newTestGateway(t, policy.Default())

	if err := gw.Shutdown(); err != nil {
		t.Errorf("expected nil error before start, got %v", err)
	}
}

// --- writeJSON --------------------------------------------------------------

func TestWriteJSON(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	writeJSON(ctx, map[string]string{"key": "value"})

	if string(ctx.Response.Header.ContentType()) != "application/json" {
		t.Errorf("expected application/json, got %s", string(ctx.Response.Header.ContentType()))
	}

	var resp map[string]string
	if err := json.Unmarshal(ctx.Response.Body(), &resp); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if resp["key"] != "value" {
		t.Errorf("expected key=value, got %v", resp["key"])
	}
}
