package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
)

// --- ヘルパー ---

// fakeRemote は認証と予約一覧を返すテスト用リモートAPI。
type fakeRemote struct {
	appointmentGets atomic.Int32
	lastAuth        atomic.Value
}

func (f *fakeRemote) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if auth := r.Header.Get("Authorization"); auth != "" {
		f.lastAuth.Store(auth)
	}
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/auth/login":
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "sato@example.com") {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"message":"Invalid credentials"}`)
			return
		}
		io.WriteString(w, `{"user":{"id":"d-1","name":"Dr. Sato","email":"sato@example.com","role":"doctor"},"accessToken":"t1","refreshToken":"t2"}`)
	case r.Method == http.MethodGet && r.URL.Path == "/appointments":
		f.appointmentGets.Add(1)
		io.WriteString(w, `[{"id":"a1","patientId":"p1","doctorId":"d-1","status":"scheduled"}]`)
	default:
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"detail":"not found"}`)
	}
}

func setTestEnv(t *testing.T, apiURL string) {
	t.Helper()
	t.Setenv("CAREPORTAL_CONFIG", "")
	t.Setenv("API_BASE_URL", apiURL)
	t.Setenv("SESSION_STORAGE", "file")
	t.Setenv("SESSION_STORAGE_PATH", t.TempDir())
	t.Setenv("LOG_LEVEL", "info")
}

// execute はルートコマンドを実行し、標準出力と標準エラー出力を返す。
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr, logs bytes.Buffer
	root := NewRootCommand(&logs)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// --- テスト ---

func TestInit_WithValidConfig_Succeeds(t *testing.T) {
	setTestEnv(t, "https://api.example.com/")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.APIBaseURL != "https://api.example.com" {
		t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
	}

	// Verify that slog global logger is configured for JSON output
	slog.Default().Info("init test")
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
}

func TestInit_WithMissingConfig_ReturnsError(t *testing.T) {
	t.Setenv("CAREPORTAL_CONFIG", "")
	t.Setenv("API_BASE_URL", "")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for missing API_BASE_URL, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

func TestCLI_LoginPersistsSessionAcrossCommands(t *testing.T) {
	remote := &fakeRemote{}
	server := httptest.NewServer(remote)
	defer server.Close()
	setTestEnv(t, server.URL)

	out, stderr, err := execute(t, "login", "--email", "sato@example.com", "--password", "pw")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if !strings.Contains(out, `"route": "/doctor/dashboard"`) {
		t.Errorf("login output = %s", out)
	}
	if !strings.Contains(stderr, "ログインしました") {
		t.Errorf("expected success notification on stderr, got %q", stderr)
	}

	// 別プロセス相当の新しいRuntimeでもセッションが復元される
	out, _, err = execute(t, "whoami")
	if err != nil {
		t.Fatalf("whoami failed: %v", err)
	}
	if !strings.Contains(out, `"isAuthenticated": true`) || !strings.Contains(out, "Dr. Sato") {
		t.Errorf("whoami output = %s", out)
	}
	if strings.Contains(out, "t1") {
		t.Errorf("whoami must not print tokens: %s", out)
	}

	out, _, err = execute(t, "list", "appointments")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !strings.Contains(out, `"id": "a1"`) {
		t.Errorf("list output = %s", out)
	}
	if got, _ := remote.lastAuth.Load().(string); got != "Bearer t1" {
		t.Errorf("Authorization = %q, want Bearer t1", got)
	}

	if _, _, err := execute(t, "logout"); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	out, _, _ = execute(t, "whoami")
	if !strings.Contains(out, `"isAuthenticated": false`) {
		t.Errorf("whoami after logout = %s", out)
	}
}

func TestCLI_LoginFailureReturnsAuthError(t *testing.T) {
	server := httptest.NewServer(&fakeRemote{})
	defer server.Close()
	setTestEnv(t, server.URL)

	_, stderr, err := execute(t, "login", "--email", "someone@example.com", "--password", "bad")
	if err == nil || !strings.Contains(err.Error(), "Invalid credentials") {
		t.Fatalf("err = %v, want Invalid credentials", err)
	}
	if !strings.Contains(stderr, "✗ Invalid credentials") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestCLI_UnknownResource(t *testing.T) {
	server := httptest.NewServer(&fakeRemote{})
	defer server.Close()
	setTestEnv(t, server.URL)

	if _, _, err := execute(t, "list", "invoices"); err == nil {
		t.Fatal("expected error for unknown resource")
	}
}

func TestCLI_CreateRejectsInvalidPayload(t *testing.T) {
	server := httptest.NewServer(&fakeRemote{})
	defer server.Close()
	setTestEnv(t, server.URL)

	_, _, err := execute(t, "create", "appointments", "--data", "{not json")
	if err == nil || !strings.Contains(err.Error(), "VALIDATION_ERROR") {
		t.Errorf("err = %v, want validation error", err)
	}
}

func TestCLI_Resources(t *testing.T) {
	server := httptest.NewServer(&fakeRemote{})
	defer server.Close()
	setTestEnv(t, server.URL)

	out, _, err := execute(t, "resources")
	if err != nil {
		t.Fatalf("resources failed: %v", err)
	}
	for _, name := range []string{"appointments", "doctors", "medications", "patients", "payments", "prescriptions", "users"} {
		if !strings.Contains(out, name+"\n") {
			t.Errorf("output missing %q: %s", name, out)
		}
	}
}

func TestCLI_Healthcheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	u, _ := url.Parse(server.URL)
	_, port, _ := net.SplitHostPort(u.Host)

	if _, _, err := execute(t, "healthcheck", "--port", port); err != nil {
		t.Errorf("healthcheck failed: %v", err)
	}
}

func TestNewServer_RoutesThroughRuntime(t *testing.T) {
	remote := &fakeRemote{}
	apiServer := httptest.NewServer(remote)
	defer apiServer.Close()
	setTestEnv(t, apiServer.URL)

	cfg, err := Init(io.Discard)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	rt, err := NewRuntime(context.Background(), cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewRuntime failed: %v", err)
	}
	defer rt.Close()

	handler := newServer(rt).Handler

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/appointments", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("GET /api/appointments before login = %d, want 401", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"sato@example.com","password":"pw"}`))
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", w.Code, w.Body.String())
	}

	for i := 0; i < 2; i++ {
		w = httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/appointments", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("GET /api/appointments = %d", w.Code)
		}
	}
	if got := remote.appointmentGets.Load(); got != 1 {
		t.Errorf("remote GET /appointments = %d, want 1 (second read served from cache)", got)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), "careportal_cache_hits_total") {
		t.Errorf("metrics output missing cache hits")
	}
}
