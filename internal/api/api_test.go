package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bcnelson/stack-manager/internal/api"
	"github.com/bcnelson/stack-manager/internal/auth"
	"github.com/bcnelson/stack-manager/internal/backend/memory"
	"github.com/bcnelson/stack-manager/internal/config"
	"github.com/bcnelson/stack-manager/internal/service"
)

// testServer creates a test server on the in-memory backend with header
// authentication.
type testServer struct {
	handler http.Handler
	backend *memory.Backend
}

type identity struct {
	name  string
	group string
	roles string
}

var (
	alice = identity{name: "alice@example.com", group: "team-a", roles: "owner"}
	bob   = identity{name: "bob@example.com", group: "team-b", roles: "owner"}
	carol = identity{name: "carol@example.com", group: "team-a", roles: "read_only"}
)

func newTestServer() *testServer {
	cfg := &config.Config{
		Platform: config.PlatformConfig{
			Prefix:         "gurum",
			Region:         "eu-west-1",
			DeploymentRole: "arn:aws:iam::000000000000:role/deploy",
			Bucket:         "templates",
			ListenerExport: "gurum-listener",
			StackTimeout:   15 * time.Minute,
			EventsLimit:    10,
		},
		Tags: config.TagConfig{}.WithDefaults("gurum"),
		AWS:  config.AWSConfig{Backend: "memory"},
		Auth: config.AuthConfig{Mode: "header", EnforceRoles: true},
	}

	mem := memory.New(memory.Options{})
	mem.SetExport("gurum-listener", mem.ListenerARN())
	mem.RegisterTemplate("https://templates.s3.eu-west-1.amazonaws.com/cfn/pipelines/pipeline-github-latest.yaml",
		memory.Template{Pipeline: true})

	handler := api.NewRouter(api.Options{
		Factory:       service.NewFactory(cfg, mem.Clients()),
		Authenticator: auth.NewHeaderAuthenticator(),
		EnforceRoles:  cfg.Auth.EnforceRoles,
	})

	return &testServer{handler: handler, backend: mem}
}

func (ts *testServer) request(method, path string, body any, who *identity) *httptest.ResponseRecorder {
	var reqBody io.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBytes)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if who != nil {
		req.Header.Set(auth.IdentityHeader, who.name)
		req.Header.Set(auth.GroupsHeader, who.group)
		req.Header.Set(auth.RolesHeader, who.roles)
	}

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rr.Body.String(), err)
	}
	return resp
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	e, _ := decode(t, rr)["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("Expected status %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer()

	rr := ts.request("GET", "/health", nil, nil)
	expectStatus(t, rr, http.StatusOK)

	if got := decode(t, rr)["status"]; got != "ok" {
		t.Errorf("Expected status ok, got %v", got)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}
}

func TestRequestID(t *testing.T) {
	ts := newTestServer()

	rr := ts.request("GET", "/health", nil, nil)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("Expected a generated request id")
	}

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr = httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("Expected request id to be echoed, got %q", got)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer()

	rr := ts.request("GET", "/api/v1/apps", nil, nil)
	expectStatus(t, rr, http.StatusUnauthorized)
	if code := errorCode(t, rr); code != "PERMISSION_DENIED" {
		t.Errorf("Expected PERMISSION_DENIED, got %q", code)
	}
}

func TestRolesEnforced(t *testing.T) {
	ts := newTestServer()

	rr := ts.request("POST", "/api/v1/apps", map[string]any{"name": "demo"}, &carol)
	expectStatus(t, rr, http.StatusUnauthorized)

	rr = ts.request("GET", "/api/v1/apps", nil, &carol)
	expectStatus(t, rr, http.StatusOK)
}

func TestApplicationLifecycle(t *testing.T) {
	ts := newTestServer()

	// Create
	rr := ts.request("POST", "/api/v1/apps", map[string]any{"name": "demo", "tasks": 2, "image": "nginx:1.27"}, &alice)
	expectStatus(t, rr, http.StatusOK)
	created := decode(t, rr)
	if created["name"] != "demo" || created["stack_name"] != "gurum-demo" {
		t.Errorf("Unexpected create response: %v", created)
	}
	if created["status"] != "CREATE_IN_PROGRESS" {
		t.Errorf("Expected CREATE_IN_PROGRESS, got %v", created["status"])
	}

	// List
	rr = ts.request("GET", "/api/v1/apps", nil, &alice)
	expectStatus(t, rr, http.StatusOK)
	apps, _ := decode(t, rr)["apps"].([]any)
	if len(apps) != 1 {
		t.Fatalf("Expected 1 app, got %d", len(apps))
	}

	// Another group sees nothing
	rr = ts.request("GET", "/api/v1/apps", nil, &bob)
	expectStatus(t, rr, http.StatusOK)
	if apps, _ := decode(t, rr)["apps"].([]any); len(apps) != 0 {
		t.Errorf("Expected no apps for another group, got %d", len(apps))
	}

	rr = ts.request("GET", "/api/v1/apps/demo", nil, &bob)
	expectStatus(t, rr, http.StatusBadRequest)
	if code := errorCode(t, rr); code != "NO_SUCH_OBJECT" {
		t.Errorf("Expected NO_SUCH_OBJECT, got %q", code)
	}

	// Describe
	rr = ts.request("GET", "/api/v1/apps/demo", nil, &alice)
	expectStatus(t, rr, http.StatusOK)
	described := decode(t, rr)
	if described["status"] != "CREATE_COMPLETE" {
		t.Errorf("Expected CREATE_COMPLETE, got %v", described["status"])
	}
	if described["type"] != "app" {
		t.Errorf("Expected type app, got %v", described["type"])
	}

	// Update
	rr = ts.request("PATCH", "/api/v1/apps/demo", map[string]any{"image": "nginx:1.28"}, &alice)
	expectStatus(t, rr, http.StatusOK)
	params, _ := decode(t, rr)["parameters"].(map[string]any)
	if params["DockerImage"] != "nginx:1.28" {
		t.Errorf("Expected updated image, got %v", params["DockerImage"])
	}

	// Delete
	rr = ts.request("DELETE", "/api/v1/apps/demo", nil, &bob)
	expectStatus(t, rr, http.StatusUnauthorized)

	rr = ts.request("DELETE", "/api/v1/apps/demo", nil, &alice)
	expectStatus(t, rr, http.StatusOK)

	rr = ts.request("GET", "/api/v1/apps/demo", nil, &alice)
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestCreateErrors(t *testing.T) {
	ts := newTestServer()
	expectStatus(t, ts.request("POST", "/api/v1/apps", map[string]any{"name": "demo"}, &alice), http.StatusOK)

	tests := []struct {
		name      string
		body      any
		wantCode  string
		wantField string
	}{
		{name: "duplicate", body: map[string]any{"name": "demo"}, wantCode: "ALREADY_EXISTS"},
		{name: "invalid name", body: map[string]any{"name": "bad_name"}, wantCode: "INVALID_INPUT", wantField: "name"},
		{name: "unknown field", body: map[string]any{"name": "other", "colour": "blue"}, wantCode: "INVALID_INPUT"},
		{name: "negative tasks", body: map[string]any{"name": "other", "tasks": -1}, wantCode: "INVALID_INPUT", wantField: "tasks"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.request("POST", "/api/v1/apps", tt.body, &alice)
			expectStatus(t, rr, http.StatusBadRequest)

			e, _ := decode(t, rr)["error"].(map[string]any)
			if e["code"] != tt.wantCode {
				t.Errorf("Expected code %s, got %v", tt.wantCode, e["code"])
			}
			if tt.wantField != "" && e["field"] != tt.wantField {
				t.Errorf("Expected field %s, got %v", tt.wantField, e["field"])
			}
		})
	}
}

func TestListFields(t *testing.T) {
	ts := newTestServer()
	expectStatus(t, ts.request("POST", "/api/v1/services", map[string]any{"name": "queue"}, &alice), http.StatusOK)

	rr := ts.request("GET", "/api/v1/services?fields=name,owner_group,nope", nil, &alice)
	expectStatus(t, rr, http.StatusOK)

	services, _ := decode(t, rr)["services"].([]any)
	if len(services) != 1 {
		t.Fatalf("Expected 1 service, got %d", len(services))
	}
	row := services[0].(map[string]any)
	if row["name"] != "queue" || row["owner_group"] != "team-a" || row["nope"] != "N/A" {
		t.Errorf("Unexpected projection: %v", row)
	}
}

func TestEvents(t *testing.T) {
	ts := newTestServer()
	expectStatus(t, ts.request("POST", "/api/v1/apps", map[string]any{"name": "demo"}, &alice), http.StatusOK)

	rr := ts.request("GET", "/api/v1/events/demo", nil, &alice)
	expectStatus(t, rr, http.StatusOK)
	events, _ := decode(t, rr)["events"].([]any)
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	latest := events[0].(map[string]any)
	if latest["status"] != "CREATE_COMPLETE" || latest["name"] != "demo" {
		t.Errorf("Unexpected latest event: %v", latest)
	}

	rr = ts.request("GET", "/api/v1/events/demo", nil, &bob)
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestPipelineStates(t *testing.T) {
	ts := newTestServer()
	rr := ts.request("POST", "/api/v1/pipelines", map[string]any{
		"name":         "ci",
		"environments": []string{"demo"},
		"source":       map[string]string{"GitHubToken": "secret"},
	}, &alice)
	expectStatus(t, rr, http.StatusOK)

	rr = ts.request("GET", "/api/v1/pipelines/ci/states", nil, &alice)
	expectStatus(t, rr, http.StatusOK)
	states, _ := decode(t, rr)["states"].([]any)
	if len(states) != 4 {
		t.Fatalf("Expected 4 action states, got %d", len(states))
	}

	rr = ts.request("PUT", "/api/v1/pipelines/ci/states", map[string]any{"status": "Approved", "summary": "ship it"}, &carol)
	expectStatus(t, rr, http.StatusUnauthorized)

	rr = ts.request("PUT", "/api/v1/pipelines/ci/states", map[string]any{"status": "Approved", "summary": "ship it"}, &alice)
	expectStatus(t, rr, http.StatusOK)
	if got := decode(t, rr)["status"]; got != "Approved" {
		t.Errorf("Expected Approved, got %v", got)
	}

	rr = ts.request("PUT", "/api/v1/pipelines/ci/states", map[string]any{"status": "Approved"}, &alice)
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer()
	ts.request("GET", "/health", nil, nil)

	rr := ts.request("GET", "/metrics", nil, nil)
	expectStatus(t, rr, http.StatusOK)
	if !bytes.Contains(rr.Body.Bytes(), []byte("stackmanager_api_requests_total")) {
		t.Error("Expected API request counter in metrics output")
	}
}
