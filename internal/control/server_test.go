package control

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobwatch/internal/domain"
	"jobwatch/internal/eventbus"
	"jobwatch/internal/scheduler"
)

type fakeEngine struct {
	mu       sync.Mutex
	status   domain.Status
	startErr error
	started  []domain.FilterConfig
	creds    []domain.Credential
	opts     int
	stops    int
	bus      *eventbus.Bus
}

func (f *fakeEngine) Start(_ context.Context, cfg domain.FilterConfig, cred domain.Credential, opts ...scheduler.StartOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, cfg)
	f.creds = append(f.creds, cred)
	f.opts = len(opts)
	f.status = domain.Status{State: domain.StateRunning, Indicator: domain.IndicatorRunning}
	return nil
}

type startCall struct {
	cfgs  []domain.FilterConfig
	creds []domain.Credential
	opts  int
	stops int
}

func (f *fakeEngine) calls() startCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return startCall{cfgs: f.started, creds: f.creds, opts: f.opts, stops: f.stops}
}

func (f *fakeEngine) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.status = domain.Status{State: domain.StateStopped, Indicator: domain.IndicatorStopped}
	return nil
}

func (f *fakeEngine) Status() domain.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeEngine) Subscribe(buffer int) (<-chan eventbus.Event, func()) {
	return f.bus.Subscribe(buffer)
}

const extensionOrigin = "chrome-extension://jobwatch"

func defaults() Defaults {
	return Defaults{
		Config: domain.FilterConfig{
			PollIntervalSeconds: 30,
			FeedSelector:        domain.FeedBestMatch,
		},
		Credential: domain.Credential{Token: "file-token"},
	}
}

func newTestServer(t *testing.T, eng *fakeEngine) *httptest.Server {
	t.Helper()
	if eng.bus == nil {
		eng.bus = eventbus.New()
	}
	s := New(eng, defaults, Config{AllowedOrigins: []string{extensionOrigin}}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestStart_UsesDefaults(t *testing.T) {
	eng := &fakeEngine{}
	srv := newTestServer(t, eng)

	resp, err := http.Post(srv.URL+"/start", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode(t, resp)["success"])

	c := eng.calls()
	require.Len(t, c.cfgs, 1)
	assert.Equal(t, 30, c.cfgs[0].PollIntervalSeconds)
	assert.Equal(t, "file-token", c.creds[0].Token)
	assert.Zero(t, c.opts)
}

func TestStart_BodyOverridesDefaults(t *testing.T) {
	eng := &fakeEngine{}
	srv := newTestServer(t, eng)

	body := `{"config":{"pollIntervalSeconds":45,"feedSelector":"mostRecent"},"credential":{"token":"tab-token"},"clampInterval":true}`
	resp, err := http.Post(srv.URL+"/start", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	c := eng.calls()
	require.Len(t, c.cfgs, 1)
	assert.Equal(t, domain.FeedMostRecent, c.cfgs[0].FeedSelector)
	assert.Equal(t, "tab-token", c.creds[0].Token)
	assert.Equal(t, 1, c.opts)
}

func TestStart_Errors(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{domain.ErrAlreadyRunning, http.StatusConflict},
		{&domain.ValidationError{Fields: []domain.FieldError{{Field: "pollIntervalSeconds", Message: "too low"}}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		eng := &fakeEngine{startErr: tt.err}
		srv := newTestServer(t, eng)

		resp, err := http.Post(srv.URL+"/start", "application/json", nil)
		require.NoError(t, err)
		assert.Equal(t, tt.status, resp.StatusCode)
		out := decode(t, resp)
		assert.Equal(t, false, out["success"])
		assert.Equal(t, tt.err.Error(), out["error"])
	}
}

func TestStart_BadJSON(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{})

	resp, err := http.Post(srv.URL+"/start", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestStopAndRunning(t *testing.T) {
	eng := &fakeEngine{status: domain.Status{State: domain.StateRunning, Indicator: domain.IndicatorRunning}}
	srv := newTestServer(t, eng)

	resp, err := http.Get(srv.URL + "/running")
	require.NoError(t, err)
	out := decode(t, resp)
	assert.Equal(t, true, out["isRunning"])
	assert.Equal(t, "running", out["indicator"])

	resp, err = http.Post(srv.URL+"/stop", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, true, decode(t, resp)["success"])
	assert.Equal(t, 1, eng.calls().stops)

	resp, err = http.Get(srv.URL + "/running")
	require.NoError(t, err)
	out = decode(t, resp)
	assert.Equal(t, false, out["isRunning"])
	assert.Equal(t, "stopped", out["indicator"])
}

func TestPreflight(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{})

	tests := []struct {
		origin string
		status int
		acao   string
	}{
		{extensionOrigin, http.StatusNoContent, extensionOrigin},
		{"https://evil.example", http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		req, err := http.NewRequest(http.MethodOptions, srv.URL+"/start", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", tt.origin)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, tt.status, resp.StatusCode, tt.origin)
		assert.Equal(t, tt.acao, resp.Header.Get("Access-Control-Allow-Origin"), tt.origin)
	}
}

func post(t *testing.T, url, origin, contentType, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestForeignOriginCannotChangeState(t *testing.T) {
	eng := &fakeEngine{status: domain.Status{State: domain.StateRunning, Indicator: domain.IndicatorRunning}}
	srv := newTestServer(t, eng)

	resp := post(t, srv.URL+"/stop", "https://evil.example", "", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	resp.Body.Close()

	body := `{"credential":{"token":"attacker"}}`
	resp = post(t, srv.URL+"/start", "https://evil.example", "application/json", body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	c := eng.calls()
	assert.Zero(t, c.stops)
	assert.Empty(t, c.creds)
}

func TestAllowedOriginCanStop(t *testing.T) {
	eng := &fakeEngine{status: domain.Status{State: domain.StateRunning, Indicator: domain.IndicatorRunning}}
	srv := newTestServer(t, eng)

	resp := post(t, srv.URL+"/stop", extensionOrigin, "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, extensionOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
	resp.Body.Close()
	assert.Equal(t, 1, eng.calls().stops)
}

func TestStart_RequiresJSONContentType(t *testing.T) {
	eng := &fakeEngine{}
	srv := newTestServer(t, eng)

	for _, ct := range []string{"text/plain", ""} {
		resp := post(t, srv.URL+"/start", "", ct, `{"credential":{"token":"x"}}`)
		assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode, ct)
		resp.Body.Close()
	}
	assert.Empty(t, eng.calls().creds)

	resp := post(t, srv.URL+"/start", "", "application/json; charset=utf-8", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestEvents_Stream(t *testing.T) {
	eng := &fakeEngine{bus: eventbus.New()}
	srv := newTestServer(t, eng)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var typ, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				typ = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "":
				return typ, data
			}
		}
	}

	typ, data := readEvent()
	assert.Equal(t, eventbus.TypeStatusChanged, typ)
	assert.JSONEq(t, `{"isRunning":false,"indicator":""}`, data)

	require.Eventually(t, func() bool { return eng.bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	eng.bus.Publish(eventbus.Event{
		Type: eventbus.TypeStatusChanged,
		Data: domain.StatusChanged{IsRunning: false, Indicator: domain.IndicatorAuthError, Reason: "credential expired"},
	})

	typ, data = readEvent()
	assert.Equal(t, eventbus.TypeStatusChanged, typ)
	assert.JSONEq(t, `{"isRunning":false,"indicator":"auth-error","reason":"credential expired"}`, data)
}
