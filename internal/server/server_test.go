package server

import (
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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebitommy123/SAP/internal/object"
	"github.com/sebitommy123/SAP/internal/query"
	"github.com/sebitommy123/SAP/internal/runner"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	ts     *httptest.Server
	runner *runner.Runner
}

func newFixture(t *testing.T, fetch runner.FetchFunc, resolver query.Resolver, scopes []query.Scope, refreshToken string) *fixture {
	t.Helper()
	logger := testLogger()

	run := runner.New(fetch, runner.Config{Interval: time.Hour}, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		run.Drain(ctx)
	})
	run.Start(context.Background())

	router := query.NewRouter(scopes, resolver)
	h := NewHandlers(ProviderInfo{
		Name:        "test-provider",
		Description: "provider under test",
		Version:     "0.1.0",
		Scopes:      scopes,
	}, run, router, refreshToken, logger)

	s := &Server{logger: logger}
	ts := httptest.NewServer(s.routes(h))
	t.Cleanup(ts.Close)
	return &fixture{ts: ts, runner: run}
}

func staticFetch(objs []object.Object) runner.FetchFunc {
	return func(ctx context.Context) ([]object.Object, error) {
		return objs, nil
	}
}

func getJSON(t *testing.T, url string, target any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if target != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
	}
	return resp.StatusCode
}

func postLazyLoad(t *testing.T, url string, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(url+"/lazy_load", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func waitReady(t *testing.T, run *runner.Runner) {
	t.Helper()
	select {
	case <-run.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("runner never became ready")
	}
}

func TestWTFIdentifiesServerType(t *testing.T) {
	f := newFixture(t, staticFetch(nil), nil, nil, "")
	var out map[string]string
	code := getJSON(t, f.ts.URL+"/wtf", &out)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "SAP", out["type"])
}

func TestHelloReportsProviderAndScopes(t *testing.T) {
	scopes := []query.Scope{{Type: "employee", Fields: []string{"name", "email"}}, {Type: "badge"}}
	resolver := query.ResolverFunc(func(ctx context.Context, req query.Request) (query.Result, error) {
		return query.Result{}, nil
	})
	f := newFixture(t, staticFetch(nil), resolver, scopes, "")

	var out map[string]any
	code := getJSON(t, f.ts.URL+"/hello", &out)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "test-provider", out["name"])
	assert.Equal(t, "0.1.0", out["version"])

	raw, err := json.Marshal(out["lazy_loading_scopes"])
	require.NoError(t, err)
	var got []query.Scope
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "employee", got[0].Type)
	assert.Nil(t, got[1].Fields, "wildcard scope round-trips as nil fields")
}

func TestHelloWithoutResolverReportsEmptyScopes(t *testing.T) {
	f := newFixture(t, staticFetch(nil), nil, nil, "")
	var out map[string]any
	getJSON(t, f.ts.URL+"/hello", &out)
	scopes, ok := out["lazy_loading_scopes"].([]any)
	require.True(t, ok, "lazy_loading_scopes must be a JSON array, got %T", out["lazy_loading_scopes"])
	assert.Empty(t, scopes)
}

func TestAllDataServesSnapshot(t *testing.T) {
	objs := []object.Object{
		object.New("e1", []string{"employee"}, "hr", map[string]any{"name": "Ada"}),
		object.New("e2", []string{"employee"}, "hr", map[string]any{"name": "Grace"}),
	}
	f := newFixture(t, staticFetch(objs), nil, nil, "")
	require.True(t, f.runner.Refresh())
	waitReady(t, f.runner)

	var out []object.Object
	code := getJSON(t, f.ts.URL+"/all_data", &out)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, out, 2)
	assert.Equal(t, "e1", out[0].ID())
}

func TestAllDataEmptyCacheIsArrayNotNull(t *testing.T) {
	f := newFixture(t, staticFetch(nil), nil, nil, "")
	resp, err := http.Get(f.ts.URL + "/all_data")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(string(body)))
}

func TestHealthStays200WhenFetchFails(t *testing.T) {
	f := newFixture(t, func(ctx context.Context) ([]object.Object, error) {
		return nil, errors.New("upstream down")
	}, nil, nil, "")
	require.True(t, f.runner.Refresh())
	require.Eventually(t, func() bool {
		return f.runner.Status().LastError != nil
	}, 2*time.Second, 10*time.Millisecond)

	var out map[string]any
	code := getJSON(t, f.ts.URL+"/health", &out)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, float64(0), out["count"])
}

func TestStatusReflectsLastError(t *testing.T) {
	f := newFixture(t, func(ctx context.Context) ([]object.Object, error) {
		return nil, errors.New("boom")
	}, nil, nil, "")
	require.True(t, f.runner.Refresh())
	require.Eventually(t, func() bool {
		return f.runner.Status().LastError != nil
	}, 2*time.Second, 10*time.Millisecond)

	var out map[string]any
	code := getJSON(t, f.ts.URL+"/status", &out)
	assert.Equal(t, http.StatusOK, code)
	require.NotNil(t, out["last_error"])
	assert.Contains(t, out["last_error"], "boom")
	assert.Equal(t, false, out["in_flight"])
}

func TestRefreshWithoutTokenConfigured(t *testing.T) {
	f := newFixture(t, staticFetch(nil), nil, nil, "")
	var out map[string]string
	code := getJSON(t, f.ts.URL+"/refresh", &out)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "refresh_started", out["status"])
}

func TestRefreshTokenGate(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, func(ctx context.Context) ([]object.Object, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	}, nil, nil, "s3cret")
	defer close(release)

	before := f.runner.Status().LastStartedAt

	var out map[string]string
	code := getJSON(t, f.ts.URL+"/refresh", &out)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthorized", out["error"])
	assert.Equal(t, false, f.runner.Status().InFlight, "rejected refresh must not start a fetch")
	assert.Equal(t, before, f.runner.Status().LastStartedAt, "rejected refresh must not touch last_started_at")

	code = getJSON(t, f.ts.URL+"/refresh?token=wrong", &out)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, before, f.runner.Status().LastStartedAt, "rejected refresh must not touch last_started_at")

	code = getJSON(t, f.ts.URL+"/refresh?token=s3cret", &out)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "refresh_started", out["status"])

	code = getJSON(t, f.ts.URL+"/refresh?token=s3cret", &out)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "refresh_skipped", out["status"], "second refresh while one is in flight is skipped")
}

func TestLazyLoadUnsupportedType(t *testing.T) {
	scopes := []query.Scope{{Type: "employee"}}
	resolver := query.ResolverFunc(func(ctx context.Context, req query.Request) (query.Result, error) {
		return query.Result{}, nil
	})
	f := newFixture(t, staticFetch(nil), resolver, scopes, "")

	code, out := postLazyLoad(t, f.ts.URL, `{"scope":{"type":"desk","fields":"*"}}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Type 'desk' not supported for lazy loading", out["error"])
}

func TestLazyLoadWithoutResolver(t *testing.T) {
	f := newFixture(t, staticFetch(nil), nil, nil, "")
	code, out := postLazyLoad(t, f.ts.URL, `{"scope":{"type":"employee","fields":"*"}}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Lazy loading not supported by this provider", out["error"])
}

func TestLazyLoadValidation(t *testing.T) {
	scopes := []query.Scope{{Type: "employee"}}
	resolver := query.ResolverFunc(func(ctx context.Context, req query.Request) (query.Result, error) {
		return query.Result{}, nil
	})
	f := newFixture(t, staticFetch(nil), resolver, scopes, "")

	code, out := postLazyLoad(t, f.ts.URL, `{"scope":{"fields":"*"}}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid scope: missing type", out["error"])

	code, out = postLazyLoad(t, f.ts.URL, `{not json`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, out["error"], "Invalid request")

	code, out = postLazyLoad(t, f.ts.URL, `{"scope":{"type":"employee"},"conditions":[["name","=="]]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, out["error"], "condition 0")
}

func TestLazyLoadSuccessAndConditions(t *testing.T) {
	scopes := []query.Scope{{Type: "employee", Fields: []string{"name"}}}
	var seen query.Request
	resolver := query.ResolverFunc(func(ctx context.Context, req query.Request) (query.Result, error) {
		seen = req
		return query.Result{
			Objects: []object.Object{object.New("e1", []string{"employee"}, "hr", map[string]any{"name": "Ada"})},
			Plan:    "Lazy loading employee | with conditions: name == Ada",
		}, nil
	})
	f := newFixture(t, staticFetch(nil), resolver, scopes, "")

	code, out := postLazyLoad(t, f.ts.URL,
		`{"scope":{"type":"employee","fields":["name"]},"conditions":[["name","==","Ada"]]}`)
	require.Equal(t, http.StatusOK, code)

	objs, ok := out["sa_objects"].([]any)
	require.True(t, ok)
	require.Len(t, objs, 1)
	assert.Contains(t, out["plan"], "Lazy loading employee")

	require.Len(t, seen.Conditions, 1)
	assert.Equal(t, query.Condition{Field: "name", Operator: "==", Value: "Ada"}, seen.Conditions[0])
	assert.Equal(t, []string{"name"}, seen.Scope.Fields)
}

func TestLazyLoadTolerantDecoding(t *testing.T) {
	// Clients may send fields this server does not model (id_types) and
	// condition values of any JSON type. Both must reach the resolver
	// rather than fail decoding.
	scopes := []query.Scope{{Type: "employee"}}
	var seen query.Request
	resolver := query.ResolverFunc(func(ctx context.Context, req query.Request) (query.Result, error) {
		seen = req
		return query.Result{Plan: "Lazy loading employee"}, nil
	})
	f := newFixture(t, staticFetch(nil), resolver, scopes, "")

	code, _ := postLazyLoad(t, f.ts.URL,
		`{"scope":{"type":"employee"},"conditions":[],"id_types":[["e1","employee"]]}`)
	assert.Equal(t, http.StatusOK, code)

	code, _ = postLazyLoad(t, f.ts.URL,
		`{"scope":{"type":"employee"},"conditions":[["favorite_number","==",42]]}`)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, seen.Conditions, 1)
	assert.Equal(t, query.Condition{Field: "favorite_number", Operator: "==", Value: float64(42)}, seen.Conditions[0])

	code, out := postLazyLoad(t, f.ts.URL,
		`{"scope":{"type":"employee"},"conditions":[[7,"==","x"]]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, out["error"], "field and operator must be strings")
}

func TestLazyLoadPlanOnly(t *testing.T) {
	scopes := []query.Scope{{Type: "employee"}}
	resolver := query.ResolverFunc(func(ctx context.Context, req query.Request) (query.Result, error) {
		if req.PlanOnly {
			return query.Result{Plan: "Lazy loading employee | (plan only - no data fetched)"}, nil
		}
		return query.Result{}, nil
	})
	f := newFixture(t, staticFetch(nil), resolver, scopes, "")

	code, out := postLazyLoad(t, f.ts.URL, `{"scope":{"type":"employee"},"plan_only":true}`)
	require.Equal(t, http.StatusOK, code)
	objs, ok := out["sa_objects"].([]any)
	require.True(t, ok, "sa_objects must be an array even in plan-only mode")
	assert.Empty(t, objs)
	assert.Contains(t, out["plan"], "plan only")
}

func TestLazyLoadResolverErrors(t *testing.T) {
	scopes := []query.Scope{{Type: "employee"}}
	resolver := query.ResolverFunc(func(ctx context.Context, req query.Request) (query.Result, error) {
		if len(req.Conditions) > 0 && req.Conditions[0].Operator == "~=" {
			return query.Result{}, fmt.Errorf("operator %q not supported: %w", req.Conditions[0].Operator, query.ErrInvalidRequest)
		}
		return query.Result{}, errors.New("directory service unreachable")
	})
	f := newFixture(t, staticFetch(nil), resolver, scopes, "")

	code, out := postLazyLoad(t, f.ts.URL,
		`{"scope":{"type":"employee"},"conditions":[["name","~=","Ada"]]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, out["error"], "not supported")

	code, out = postLazyLoad(t, f.ts.URL, `{"scope":{"type":"employee"}}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, out["error"], "directory service unreachable")
}

func TestRootIndexListsEndpoints(t *testing.T) {
	f := newFixture(t, staticFetch(nil), nil, nil, "")
	var out map[string]any
	code := getJSON(t, f.ts.URL+"/", &out)
	assert.Equal(t, http.StatusOK, code)
	endpoints, ok := out["endpoints"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, endpoints, "/all_data")
	assert.NotContains(t, endpoints, "/lazy_load", "lazy_load hidden without a resolver")
}

func TestRequestIDHeaderSet(t *testing.T) {
	f := newFixture(t, staticFetch(nil), nil, nil, "")
	resp, err := http.Get(f.ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestAutoPortFallsBack(t *testing.T) {
	first, err := New(Config{
		Host:     "127.0.0.1",
		Port:     0,
		Handlers: NewHandlers(ProviderInfo{Name: "a"}, newIdleRunner(t), query.NewRouter(nil, nil), "", testLogger()),
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	defer first.Shutdown(context.Background())

	second, err := New(Config{
		Host:     "127.0.0.1",
		Port:     first.Port(),
		AutoPort: true,
		Handlers: NewHandlers(ProviderInfo{Name: "b"}, newIdleRunner(t), query.NewRouter(nil, nil), "", testLogger()),
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	defer second.Shutdown(context.Background())

	assert.NotEqual(t, first.Port(), second.Port())
	assert.Equal(t, first.Port()+1, second.Port())
}

func TestBindWithoutAutoPortFails(t *testing.T) {
	first, err := New(Config{
		Host:     "127.0.0.1",
		Port:     0,
		Handlers: NewHandlers(ProviderInfo{Name: "a"}, newIdleRunner(t), query.NewRouter(nil, nil), "", testLogger()),
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	defer first.Shutdown(context.Background())

	_, err = New(Config{
		Host:     "127.0.0.1",
		Port:     first.Port(),
		Handlers: NewHandlers(ProviderInfo{Name: "b"}, newIdleRunner(t), query.NewRouter(nil, nil), "", testLogger()),
		Logger:   testLogger(),
	})
	require.Error(t, err)
}

func newIdleRunner(t *testing.T) *runner.Runner {
	t.Helper()
	run := runner.New(staticFetch(nil), runner.Config{Interval: time.Hour}, testLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		run.Drain(ctx)
	})
	return run
}
