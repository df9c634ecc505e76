package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pavankpdev/rate-limiting-implementation/internal/admission"
	"github.com/pavankpdev/rate-limiting-implementation/internal/clock"
	"github.com/pavankpdev/rate-limiting-implementation/internal/counter"
	"github.com/pavankpdev/rate-limiting-implementation/internal/identity"
	"github.com/pavankpdev/rate-limiting-implementation/internal/limiter"
	"github.com/pavankpdev/rate-limiting-implementation/internal/metrics"
	"github.com/pavankpdev/rate-limiting-implementation/internal/worker"
)

type serverConfig struct {
	authCapacity  int
	guestCapacity int
	window        time.Duration
	concurrency   int
	queueSize     int
	timeout       time.Duration
	work          worker.WorkFunc
	users         map[string]string
}

type serverEnv struct {
	baseURL string
	pool    *worker.Pool
	hub     *Hub
}

// startTestServer brings up a full stack on an ephemeral port: memory
// counter store, fixed window limiter, worker pool, admission controller
// and HTTP server. Zero fields in cfg get test defaults.
func startTestServer(t *testing.T, cfg serverConfig) *serverEnv {
	t.Helper()

	if cfg.authCapacity == 0 {
		cfg.authCapacity = 10
	}
	if cfg.guestCapacity == 0 {
		cfg.guestCapacity = 10
	}
	if cfg.window == 0 {
		cfg.window = time.Minute
	}
	if cfg.concurrency == 0 {
		cfg.concurrency = 2
	}
	if cfg.queueSize == 0 {
		cfg.queueSize = 4
	}
	if cfg.timeout == 0 {
		cfg.timeout = 5 * time.Second
	}
	if cfg.work == nil {
		cfg.work = func(ctx context.Context, identity, payload string) (string, error) {
			return "echo: " + payload, nil
		}
	}
	if cfg.users == nil {
		cfg.users = map[string]string{"alice": "s3cret"}
	}

	clk := clock.NewReal()
	lim, err := limiter.New(limiter.AlgorithmFixedWindow, counter.NewMemory(clk), clk)
	if err != nil {
		t.Fatalf("limiter.New: %v", err)
	}
	pool := worker.NewPool(cfg.concurrency, cfg.queueSize, cfg.work, clk, metrics.NewCollector())
	tiers := func(authenticated bool) limiter.Tier {
		if authenticated {
			return limiter.Tier{Name: "authenticated", Capacity: cfg.authCapacity, Window: cfg.window}
		}
		return limiter.Tier{Name: "guest", Capacity: cfg.guestCapacity, Window: cfg.window}
	}
	hub := NewHub()
	ctrl, err := admission.New(lim, pool, tiers, cfg.timeout, clk, hub)
	if err != nil {
		t.Fatalf("admission.New: %v", err)
	}

	srv := New("127.0.0.1:0", ctrl, identity.NewIssuer(cfg.users), pool, hub, clk)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go srv.StartOnListener(ln)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		pool.Close(ctx)
	})

	return &serverEnv{
		baseURL: "http://" + ln.Addr().String(),
		pool:    pool,
		hub:     hub,
	}
}

func postJSON(t *testing.T, url, token string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return res
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	defer res.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return body
}

func login(t *testing.T, baseURL, username, password string) string {
	t.Helper()
	res := postJSON(t, baseURL+"/api/login", "", map[string]string{"username": username, "password": password})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	token, _ := decodeBody(t, res)["token"].(string)
	if token == "" {
		t.Fatal("login returned an empty token")
	}
	return token
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// gatedWork blocks every task until gate is closed.
func gatedWork(gate chan struct{}) worker.WorkFunc {
	return func(ctx context.Context, identity, payload string) (string, error) {
		<-gate
		return "done", nil
	}
}

func TestServer_Root(t *testing.T) {
	env := startTestServer(t, serverConfig{})

	res, err := http.Get(env.baseURL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
	body := decodeBody(t, res)
	if body["service"] != "ratelimitd" {
		t.Errorf("service = %v, want %q", body["service"], "ratelimitd")
	}
	if body["status"] != "running" {
		t.Errorf("status field = %v, want %q", body["status"], "running")
	}
	if body["algorithm"] != "fixed_window" {
		t.Errorf("algorithm = %v, want %q", body["algorithm"], "fixed_window")
	}
}

func TestServer_Healthz(t *testing.T) {
	env := startTestServer(t, serverConfig{})

	res, err := http.Get(env.baseURL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if body := decodeBody(t, res); body["status"] != "ok" {
		t.Errorf("status field = %v, want %q", body["status"], "ok")
	}
}

func TestServer_UnknownRouteIs404(t *testing.T) {
	env := startTestServer(t, serverConfig{})

	res, err := http.Get(env.baseURL + "/nope")
	if err != nil {
		t.Fatalf("GET /nope: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestServer_Login(t *testing.T) {
	env := startTestServer(t, serverConfig{})

	res := postJSON(t, env.baseURL+"/api/login", "", map[string]string{"username": "alice", "password": "s3cret"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	body := decodeBody(t, res)
	if token, _ := body["token"].(string); token == "" {
		t.Error("login returned no token")
	}
	if body["identity"] != "user:alice" {
		t.Errorf("identity = %v, want %q", body["identity"], "user:alice")
	}
	if body["authenticated"] != true {
		t.Errorf("authenticated = %v, want true", body["authenticated"])
	}
}

func TestServer_Login_BadCredentials(t *testing.T) {
	env := startTestServer(t, serverConfig{})

	res := postJSON(t, env.baseURL+"/api/login", "", map[string]string{"username": "alice", "password": "wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
	if body := decodeBody(t, res); body["error"] != "invalid credentials" {
		t.Errorf("error = %v, want %q", body["error"], "invalid credentials")
	}
}

func TestServer_Login_MalformedBody(t *testing.T) {
	env := startTestServer(t, serverConfig{})

	res, err := http.Post(env.baseURL+"/api/login", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("POST /api/login: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestServer_Chat_GuestTierExhausts(t *testing.T) {
	env := startTestServer(t, serverConfig{guestCapacity: 2})

	for i, wantRemaining := range []string{"1", "0"} {
		res := postJSON(t, env.baseURL+"/api/chat", "", map[string]string{"message": "hello"})
		if res.StatusCode != http.StatusOK {
			t.Fatalf("request %d status = %d, want %d", i+1, res.StatusCode, http.StatusOK)
		}
		if got := res.Header.Get("X-RateLimit-Remaining"); got != wantRemaining {
			t.Errorf("request %d X-RateLimit-Remaining = %q, want %q", i+1, got, wantRemaining)
		}
		body := decodeBody(t, res)
		if body["reply"] != "echo: hello" {
			t.Errorf("request %d reply = %v, want %q", i+1, body["reply"], "echo: hello")
		}
	}

	res := postJSON(t, env.baseURL+"/api/chat", "", map[string]string{"message": "hello"})
	if res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusTooManyRequests)
	}
	if got := res.Header.Get("X-RateLimit-Limit"); got != "2" {
		t.Errorf("X-RateLimit-Limit = %q, want %q", got, "2")
	}
	if got := res.Header.Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want %q", got, "0")
	}
	if _, err := time.Parse(time.RFC3339, res.Header.Get("X-RateLimit-Reset")); err != nil {
		t.Errorf("X-RateLimit-Reset is not RFC3339: %v", err)
	}
	if res.Header.Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
	body := decodeBody(t, res)
	if body["error"] != "rate limit exceeded" {
		t.Errorf("error = %v, want %q", body["error"], "rate limit exceeded")
	}
	if body["remaining_requests"] != float64(0) {
		t.Errorf("remaining_requests = %v, want 0", body["remaining_requests"])
	}
	if cooldown, _ := body["cooldown_seconds"].(float64); cooldown < 1 {
		t.Errorf("cooldown_seconds = %v, want >= 1", body["cooldown_seconds"])
	}
}

func TestServer_Chat_AuthenticatedTierIsSeparate(t *testing.T) {
	env := startTestServer(t, serverConfig{authCapacity: 1, guestCapacity: 1})
	token := login(t, env.baseURL, "alice", "s3cret")

	res := postJSON(t, env.baseURL+"/api/chat", token, map[string]string{"message": "hi"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("authenticated chat status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	res.Body.Close()

	res = postJSON(t, env.baseURL+"/api/chat", token, map[string]string{"message": "hi"})
	if res.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second authenticated chat status = %d, want %d", res.StatusCode, http.StatusTooManyRequests)
	}
	res.Body.Close()

	// Alice's traffic must not have touched the guest bucket.
	res = postJSON(t, env.baseURL+"/api/chat", "", map[string]string{"message": "hi"})
	if res.StatusCode != http.StatusOK {
		t.Errorf("guest chat status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	res.Body.Close()
}

func TestServer_Chat_StaleTokenFallsBackToGuest(t *testing.T) {
	env := startTestServer(t, serverConfig{guestCapacity: 1})

	res := postJSON(t, env.baseURL+"/api/chat", "not-a-real-token", map[string]string{"message": "hi"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	res.Body.Close()

	// The stale token consumed the shared guest bucket.
	res = postJSON(t, env.baseURL+"/api/chat", "", map[string]string{"message": "hi"})
	if res.StatusCode != http.StatusTooManyRequests {
		t.Errorf("anonymous chat status = %d, want %d", res.StatusCode, http.StatusTooManyRequests)
	}
	res.Body.Close()
}

func TestServer_Chat_RequiresMessage(t *testing.T) {
	env := startTestServer(t, serverConfig{})

	res := postJSON(t, env.baseURL+"/api/chat", "", map[string]string{"message": "   "})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
	if body := decodeBody(t, res); body["error"] != "message is required" {
		t.Errorf("error = %v, want %q", body["error"], "message is required")
	}
}

func TestServer_Chat_OverloadedWhenWorkersBusy(t *testing.T) {
	gate := make(chan struct{})
	env := startTestServer(t, serverConfig{concurrency: 1, timeout: time.Hour, work: gatedWork(gate)})

	firstDone := make(chan error, 1)
	go func() {
		res, err := http.Post(env.baseURL+"/api/chat", "application/json", strings.NewReader(`{"message":"slow"}`))
		if err == nil {
			res.Body.Close()
		}
		firstDone <- err
	}()
	waitFor(t, "the worker to pick up the first request", func() bool {
		return env.pool.ActiveWorkers() == 1
	})

	res := postJSON(t, env.baseURL+"/api/chat", "", map[string]string{"message": "hi"})
	if res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusTooManyRequests)
	}
	body := decodeBody(t, res)
	if body["error"] != "server overloaded, retry shortly" {
		t.Errorf("error = %v, want %q", body["error"], "server overloaded, retry shortly")
	}
	if body["concurrency"] != float64(1) {
		t.Errorf("concurrency = %v, want 1", body["concurrency"])
	}
	if body["queue_length"] != float64(0) {
		t.Errorf("queue_length = %v, want 0", body["queue_length"])
	}

	close(gate)
	if err := <-firstDone; err != nil {
		t.Fatalf("first request failed: %v", err)
	}
}

func TestServer_Chat_TimesOut(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	env := startTestServer(t, serverConfig{timeout: 30 * time.Millisecond, work: gatedWork(gate)})

	res := postJSON(t, env.baseURL+"/api/chat", "", map[string]string{"message": "slow"})
	if res.StatusCode != http.StatusRequestTimeout {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusRequestTimeout)
	}
	if body := decodeBody(t, res); body["error"] != "request timed out" {
		t.Errorf("error = %v, want %q", body["error"], "request timed out")
	}
}

func TestServer_Unthrottled_BypassesRateLimit(t *testing.T) {
	env := startTestServer(t, serverConfig{guestCapacity: 1})

	for i := 0; i < 3; i++ {
		res := postJSON(t, env.baseURL+"/api/chat/unthrottled", "", map[string]string{"message": "hi"})
		if res.StatusCode != http.StatusOK {
			t.Fatalf("request %d status = %d, want %d", i+1, res.StatusCode, http.StatusOK)
		}
		body := decodeBody(t, res)
		if body["reply"] != "echo: hi" {
			t.Errorf("request %d reply = %v, want %q", i+1, body["reply"], "echo: hi")
		}
		if _, found := body["remaining_requests"]; found {
			t.Error("unthrottled response carries remaining_requests")
		}
	}
}

func TestServer_Unthrottled_QueueFull(t *testing.T) {
	gate := make(chan struct{})
	env := startTestServer(t, serverConfig{concurrency: 1, queueSize: 1, timeout: time.Hour, work: gatedWork(gate)})

	background := make(chan error, 2)
	post := func() {
		res, err := http.Post(env.baseURL+"/api/chat/unthrottled", "application/json", strings.NewReader(`{"message":"slow"}`))
		if err == nil {
			res.Body.Close()
		}
		background <- err
	}

	go post()
	waitFor(t, "the worker to pick up the first request", func() bool {
		return env.pool.ActiveWorkers() == 1
	})
	go post()
	waitFor(t, "the second request to queue", func() bool {
		return env.pool.QueueLength() == 1
	})

	res := postJSON(t, env.baseURL+"/api/chat/unthrottled", "", map[string]string{"message": "hi"})
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusServiceUnavailable)
	}
	if body := decodeBody(t, res); body["error"] != "queue full, retry shortly" {
		t.Errorf("error = %v, want %q", body["error"], "queue full, retry shortly")
	}

	close(gate)
	for i := 0; i < 2; i++ {
		if err := <-background; err != nil {
			t.Fatalf("background request failed: %v", err)
		}
	}
}

func TestServer_Metrics(t *testing.T) {
	env := startTestServer(t, serverConfig{concurrency: 3, queueSize: 7})

	for i := 0; i < 2; i++ {
		res := postJSON(t, env.baseURL+"/api/chat", "", map[string]string{"message": "hi"})
		if res.StatusCode != http.StatusOK {
			t.Fatalf("chat status = %d, want %d", res.StatusCode, http.StatusOK)
		}
		res.Body.Close()
	}
	// The completion is recorded just after the response is settled, so
	// give the worker a beat to finish bookkeeping.
	waitFor(t, "completions to be recorded", func() bool {
		return env.pool.Metrics().TotalProcessed == 2
	})

	res, err := http.Get(env.baseURL + "/api/metrics")
	if err != nil {
		t.Fatalf("GET /api/metrics: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	body := decodeBody(t, res)
	if body["total_processed"] != float64(2) {
		t.Errorf("total_processed = %v, want 2", body["total_processed"])
	}
	if body["active_workers"] != float64(0) {
		t.Errorf("active_workers = %v, want 0", body["active_workers"])
	}
	if body["concurrency"] != float64(3) {
		t.Errorf("concurrency = %v, want 3", body["concurrency"])
	}
	if body["max_queue_size"] != float64(7) {
		t.Errorf("max_queue_size = %v, want 7", body["max_queue_size"])
	}
}

func TestServer_WebSocketStreamsEvents(t *testing.T) {
	env := startTestServer(t, serverConfig{})

	wsURL := "ws" + strings.TrimPrefix(env.baseURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	defer conn.Close()

	waitFor(t, "the hub to register the client", func() bool {
		return env.hub.ClientCount() == 1
	})

	res := postJSON(t, env.baseURL+"/api/chat", "", map[string]string{"message": "hi"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	res.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read websocket message: %v", err)
	}
	var e admission.Event
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if e.Flow != admission.FlowGated {
		t.Errorf("event flow = %q, want %q", e.Flow, admission.FlowGated)
	}
	if e.Outcome != admission.OutcomeCompleted {
		t.Errorf("event outcome = %q, want %q", e.Outcome, admission.OutcomeCompleted)
	}
	if e.Identity != "guest:127.0.0.1" {
		t.Errorf("event identity = %q, want %q", e.Identity, "guest:127.0.0.1")
	}
}
