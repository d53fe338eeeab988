package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/careportal/internal/auth"
	"github.com/hitoshi/careportal/internal/model"
	"github.com/hitoshi/careportal/internal/notify"
	"github.com/hitoshi/careportal/internal/portal"
	"github.com/hitoshi/careportal/internal/session"
	"github.com/hitoshi/careportal/internal/storage"
)

// --- モック定義 ---

type mockAuthService struct {
	loginFn    func(ctx context.Context, creds model.Credentials) (auth.Result, error)
	registerFn func(ctx context.Context, reg model.Registration) (auth.Result, error)
	logoutFn   func(ctx context.Context) error
	resetEmail string
	confirmed  []string
}

func (m *mockAuthService) Login(ctx context.Context, creds model.Credentials) (auth.Result, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, creds)
	}
	return auth.Result{}, nil
}

func (m *mockAuthService) Register(ctx context.Context, reg model.Registration) (auth.Result, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, reg)
	}
	return auth.Result{}, nil
}

func (m *mockAuthService) Logout(ctx context.Context) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx)
	}
	return nil
}

func (m *mockAuthService) RequestPasswordReset(ctx context.Context, email string) error {
	m.resetEmail = email
	return nil
}

func (m *mockAuthService) ConfirmPasswordReset(ctx context.Context, email, otp, newPassword string) error {
	m.confirmed = []string{email, otp, newPassword}
	return nil
}

var _ AuthServiceInterface = (*mockAuthService)(nil)

type mockEndpoint struct {
	name     string
	listDoc  portal.Document
	getFn    func(ctx context.Context, id string) portal.Document
	createFn func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
	updateFn func(ctx context.Context, id string, payload json.RawMessage) (json.RawMessage, error)
	deleteFn func(ctx context.Context, id string) error
}

func (m *mockEndpoint) Name() string { return m.name }
func (m *mockEndpoint) ListJSON(ctx context.Context) portal.Document { return m.listDoc }
func (m *mockEndpoint) Warm(ctx context.Context) error { return nil }

func (m *mockEndpoint) GetJSON(ctx context.Context, id string) portal.Document {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return portal.Document{}
}

func (m *mockEndpoint) CreateJSON(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	if m.createFn != nil {
		return m.createFn(ctx, payload)
	}
	return payload, nil
}

func (m *mockEndpoint) UpdateJSON(ctx context.Context, id string, payload json.RawMessage) (json.RawMessage, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, payload)
	}
	return payload, nil
}

func (m *mockEndpoint) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

var _ portal.Endpoint = (*mockEndpoint)(nil)

type mockRegistry struct {
	endpoints map[string]*mockEndpoint
}

func (m *mockRegistry) Resource(name string) (portal.Endpoint, error) {
	ep, ok := m.endpoints[name]
	if !ok {
		return nil, model.NewUnknownResourceError(name)
	}
	return ep, nil
}

func (m *mockRegistry) Names() []string {
	names := make([]string, 0, len(m.endpoints))
	for name := range m.endpoints {
		names = append(names, name)
	}
	return names
}

type mockProfile struct {
	updateFn func(ctx context.Context, patch model.UserPatch) (model.User, error)
}

func (m *mockProfile) UpdateProfile(ctx context.Context, patch model.UserPatch) (model.User, error) {
	return m.updateFn(ctx, patch)
}

type mockFeed struct {
	events []notify.Event
	since  time.Time
}

func (m *mockFeed) Recent(since time.Time) []notify.Event {
	m.since = since
	return m.events
}

// --- ヘルパー ---

type testRouter struct {
	handler  http.Handler
	store    *session.Store
	auth     *mockAuthService
	patients *mockEndpoint
	profile  *mockProfile
	feed     *mockFeed
	logs     *bytes.Buffer
}

func newTestRouter(t *testing.T, user *model.User) *testRouter {
	t.Helper()
	ctx := context.Background()
	store, err := session.NewStore(ctx, storage.NewMemoryStorage(), "auth-storage", nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if user != nil {
		if err := store.SetUser(ctx, model.AuthResponse{User: user, AccessToken: "secret-token", RefreshToken: "refresh"}); err != nil {
			t.Fatalf("SetUser failed: %v", err)
		}
	}

	tr := &testRouter{
		store:    store,
		auth:     &mockAuthService{},
		patients: &mockEndpoint{name: model.ResourcePatients},
		profile:  &mockProfile{},
		feed:     &mockFeed{},
		logs:     &bytes.Buffer{},
	}
	tr.handler = NewRouter(&RouterDeps{
		Logger:            slog.New(slog.NewJSONHandler(tr.logs, nil)),
		Session:           store,
		CORSAllowedOrigin: "http://localhost:3000",
		Auth:              tr.auth,
		Resources:         &mockRegistry{endpoints: map[string]*mockEndpoint{model.ResourcePatients: tr.patients}},
		Profile:           tr.profile,
		Notifications:     tr.feed,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics"))
		}),
	})
	return tr
}

func (tr *testRouter) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	tr.handler.ServeHTTP(w, req)
	return w
}

var doctor = &model.User{ID: "d-1", Name: "Dr. Sato", Email: "sato@example.com", Role: model.RoleDoctor}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body.Code
}

// --- テスト ---

func TestRouter_HealthAndMetrics(t *testing.T) {
	tr := newTestRouter(t, nil)

	if w := tr.do(http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("GET /health status = %d", w.Code)
	}
	if w := tr.do(http.MethodGet, "/metrics", ""); w.Code != http.StatusOK || w.Body.String() != "# metrics" {
		t.Errorf("GET /metrics status = %d body = %q", w.Code, w.Body.String())
	}
}

func TestRouter_ResourceRoutesRequireSession(t *testing.T) {
	tr := newTestRouter(t, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/patients"},
		{http.MethodGet, "/api/patients/p1"},
		{http.MethodDelete, "/api/patients/p1"},
		{http.MethodGet, "/api/resources"},
	} {
		if w := tr.do(tc.method, tc.path, ""); w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want 401", tc.method, tc.path, w.Code)
		}
	}
}

func TestRouter_ListFreshData(t *testing.T) {
	tr := newTestRouter(t, doctor)
	tr.patients.listDoc = portal.Document{
		Data:      json.RawMessage(`[{"id":"p1"}]`),
		HasData:   true,
		FetchedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	w := tr.do(http.MethodGet, "/api/patients", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if w.Body.String() != `[{"id":"p1"}]` {
		t.Errorf("body = %s", w.Body.String())
	}
	if got := w.Header().Get(headerCacheStale); got != "" {
		t.Errorf("%s = %q, want empty", headerCacheStale, got)
	}
	if got := w.Header().Get(headerCacheFetchedAt); got != "2026-01-02T03:04:05Z" {
		t.Errorf("%s = %q", headerCacheFetchedAt, got)
	}
}

func TestRouter_ListStaleDataOnFailure(t *testing.T) {
	tr := newTestRouter(t, doctor)
	tr.patients.listDoc = portal.Document{
		Data:    json.RawMessage(`[{"id":"p1"}]`),
		HasData: true,
		Err:     model.NewNetworkError(errors.New("timeout")),
	}

	w := tr.do(http.MethodGet, "/api/patients", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with stale data", w.Code)
	}
	if w.Header().Get(headerCacheStale) != "true" || w.Header().Get(headerCacheError) != "network" {
		t.Errorf("headers = %v", w.Header())
	}
}

func TestRouter_ListFailureWithoutData(t *testing.T) {
	tr := newTestRouter(t, doctor)
	tr.patients.listDoc = portal.Document{Err: model.NewServerError(503, "maintenance")}

	w := tr.do(http.MethodGet, "/api/patients", "")
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
	if code := errorCode(t, w); code != model.ErrCodeServer {
		t.Errorf("code = %q", code)
	}
}

func TestRouter_UnknownResource(t *testing.T) {
	tr := newTestRouter(t, doctor)

	w := tr.do(http.MethodGet, "/api/invoices", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if code := errorCode(t, w); code != model.ErrCodeUnknownResource {
		t.Errorf("code = %q", code)
	}
}

func TestRouter_GetPassesID(t *testing.T) {
	tr := newTestRouter(t, doctor)
	var gotID string
	tr.patients.getFn = func(ctx context.Context, id string) portal.Document {
		gotID = id
		return portal.Document{Data: json.RawMessage(`{"id":"p7"}`), HasData: true}
	}

	if w := tr.do(http.MethodGet, "/api/patients/p7", ""); w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if gotID != "p7" {
		t.Errorf("id = %q, want p7", gotID)
	}
}

func TestRouter_CreateUpdateDelete(t *testing.T) {
	tr := newTestRouter(t, doctor)
	var updatedID, deletedID string
	tr.patients.createFn = func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"id":"p2","name":"Hanako"}`), nil
	}
	tr.patients.updateFn = func(ctx context.Context, id string, payload json.RawMessage) (json.RawMessage, error) {
		updatedID = id
		return payload, nil
	}
	tr.patients.deleteFn = func(ctx context.Context, id string) error {
		deletedID = id
		return nil
	}

	if w := tr.do(http.MethodPost, "/api/patients", `{"name":"Hanako"}`); w.Code != http.StatusCreated {
		t.Errorf("POST status = %d", w.Code)
	}
	if w := tr.do(http.MethodPatch, "/api/patients/p2", `{"phone":"090"}`); w.Code != http.StatusOK || updatedID != "p2" {
		t.Errorf("PATCH status = %d, id = %q", w.Code, updatedID)
	}
	if w := tr.do(http.MethodDelete, "/api/patients/p2", ""); w.Code != http.StatusNoContent || deletedID != "p2" {
		t.Errorf("DELETE status = %d, id = %q", w.Code, deletedID)
	}
}

func TestRouter_WritesAreLoggedWithActor(t *testing.T) {
	tr := newTestRouter(t, doctor)
	tr.patients.deleteFn = func(ctx context.Context, id string) error { return nil }

	if w := tr.do(http.MethodDelete, "/api/patients/p9", ""); w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}

	var found bool
	for _, line := range bytes.Split(bytes.TrimSpace(tr.logs.Bytes()), []byte("\n")) {
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatalf("invalid log line %s: %v", line, err)
		}
		if entry["msg"] != "resource written" {
			continue
		}
		found = true
		if entry["user_id"] != "d-1" || entry["role"] != "doctor" || entry["operation"] != "delete" || entry["id"] != "p9" || entry["resource"] != "patients" {
			t.Errorf("log entry = %v", entry)
		}
	}
	if !found {
		t.Errorf("no write log entry in %s", tr.logs.String())
	}
}

func TestRouter_CreateRejectsInvalidJSON(t *testing.T) {
	tr := newTestRouter(t, doctor)
	called := false
	tr.patients.createFn = func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		called = true
		return nil, nil
	}

	w := tr.do(http.MethodPost, "/api/patients", `{"name":`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if called {
		t.Error("endpoint must not be called for invalid JSON")
	}
}

func TestRouter_CreateValidationErrorFromRemote(t *testing.T) {
	tr := newTestRouter(t, doctor)
	tr.patients.createFn = func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return nil, model.NewValidationError("name is required", map[string][]string{"name": {"required"}})
	}

	w := tr.do(http.MethodPost, "/api/patients", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"name":["required"]`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestRouter_Login(t *testing.T) {
	tr := newTestRouter(t, nil)
	tr.auth.loginFn = func(ctx context.Context, creds model.Credentials) (auth.Result, error) {
		if creds.Email != "sato@example.com" || creds.Password != "pw" {
			t.Errorf("creds = %+v", creds)
		}
		return auth.Result{User: *doctor, Route: "/doctor/dashboard"}, nil
	}

	w := tr.do(http.MethodPost, "/api/auth/login", `{"email":"sato@example.com","password":"pw"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res auth.Result
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if res.Route != "/doctor/dashboard" || res.User.ID != "d-1" {
		t.Errorf("result = %+v", res)
	}
}

func TestRouter_LoginFailure(t *testing.T) {
	tr := newTestRouter(t, nil)
	tr.auth.loginFn = func(ctx context.Context, creds model.Credentials) (auth.Result, error) {
		return auth.Result{}, model.NewAuthError(401, "Invalid credentials")
	}

	w := tr.do(http.MethodPost, "/api/auth/login", `{"email":"a@example.com","password":"x"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestRouter_RegisterLogoutAndPasswordReset(t *testing.T) {
	tr := newTestRouter(t, nil)
	tr.auth.registerFn = func(ctx context.Context, reg model.Registration) (auth.Result, error) {
		return auth.Result{User: model.User{ID: "p-1", Role: model.RolePatient}, Route: "/patient/dashboard"}, nil
	}

	if w := tr.do(http.MethodPost, "/api/auth/register", `{"name":"Pat","email":"pat@example.com","password":"pw"}`); w.Code != http.StatusCreated {
		t.Errorf("register status = %d", w.Code)
	}
	if w := tr.do(http.MethodPost, "/api/auth/logout", ""); w.Code != http.StatusNoContent {
		t.Errorf("logout status = %d", w.Code)
	}
	if w := tr.do(http.MethodPost, "/api/auth/password-reset", `{"email":"pat@example.com"}`); w.Code != http.StatusAccepted || tr.auth.resetEmail != "pat@example.com" {
		t.Errorf("password-reset status = %d, email = %q", w.Code, tr.auth.resetEmail)
	}
	w := tr.do(http.MethodPost, "/api/auth/password-reset/confirm", `{"email":"pat@example.com","otp":"123456","new_password":"n3w"}`)
	if w.Code != http.StatusNoContent {
		t.Errorf("confirm status = %d", w.Code)
	}
	if got := tr.auth.confirmed; len(got) != 3 || got[1] != "123456" || got[2] != "n3w" {
		t.Errorf("confirmed = %v", got)
	}
}

func TestRouter_SessionOmitsTokens(t *testing.T) {
	tr := newTestRouter(t, doctor)

	w := tr.do(http.MethodGet, "/api/session", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if strings.Contains(body, "secret-token") || strings.Contains(body, "refresh") {
		t.Errorf("session response leaks tokens: %s", body)
	}
	var resp sessionResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !resp.IsAuthenticated || resp.User.ID != "d-1" || resp.Route != "/doctor/dashboard" {
		t.Errorf("session = %+v", resp)
	}
}

func TestRouter_SessionLoggedOut(t *testing.T) {
	tr := newTestRouter(t, nil)

	var resp sessionResponse
	w := tr.do(http.MethodGet, "/api/session", "")
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.IsAuthenticated || resp.User != nil || resp.Route != "" {
		t.Errorf("session = %+v", resp)
	}
}

func TestRouter_UpdateProfile(t *testing.T) {
	tr := newTestRouter(t, doctor)
	tr.profile.updateFn = func(ctx context.Context, patch model.UserPatch) (model.User, error) {
		if patch.Name == nil || *patch.Name != "Dr. Suzuki" || patch.Email != nil {
			t.Errorf("patch = %+v", patch)
		}
		return model.User{ID: "d-1", Name: "Dr. Suzuki"}, nil
	}

	w := tr.do(http.MethodPatch, "/api/profile", `{"name":"Dr. Suzuki"}`)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestRouter_Notifications(t *testing.T) {
	tr := newTestRouter(t, nil)
	tr.feed.events = []notify.Event{{Kind: notify.KindSuccess, Message: "予約を作成しました"}}

	w := tr.do(http.MethodGet, "/api/notifications?since=2026-03-01T00:00:00Z", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !tr.feed.since.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("since = %v", tr.feed.since)
	}
	if !strings.Contains(w.Body.String(), "予約を作成しました") {
		t.Errorf("body = %s", w.Body.String())
	}

	if w := tr.do(http.MethodGet, "/api/notifications?since=yesterday", ""); w.Code != http.StatusBadRequest {
		t.Errorf("invalid since status = %d, want 400", w.Code)
	}
}

func TestRouter_RejectsForeignOriginWrites(t *testing.T) {
	tr := newTestRouter(t, doctor)

	req := httptest.NewRequest(http.MethodDelete, "/api/patients/p1", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	tr.handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}
