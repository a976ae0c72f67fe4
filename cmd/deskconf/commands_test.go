package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/deskconf/internal/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestSettingsGet(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /settings/value": `{"path":"desktop.theme","value":"StandardTheme","source":"defaults"}`,
	})

	v, err := getValue(ctx, ts.client(), "desktop.theme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Value != "StandardTheme" || v.Source != "defaults" {
		t.Errorf("value = %+v", v)
	}
	if ts.requests[0].Path != "/settings/value?path=desktop.theme" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
	if ts.requests[0].Auth != "Bearer test-token" {
		t.Errorf("auth = %q", ts.requests[0].Auth)
	}
}

func TestSettingsSet(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PUT /settings/value": `{"path":"desktop.iconview.enabled","value":false,"source":"settings"}`,
	})

	v, err := setValue(ctx, ts.client(), "desktop.iconview.enabled", "false")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Value != false {
		t.Errorf("value = %v, want false", v.Value)
	}

	r := ts.requests[0]
	if r.Method != "PUT" {
		t.Errorf("method = %q, want PUT", r.Method)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["value"] != "false" {
		t.Errorf("body.value = %v, want the raw string", body["value"])
	}
}

func TestSettingsSet_URLEncoding(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PUT /settings/value": `{"path":"a b","value":"x","source":"settings"}`,
	})

	if _, err := setValue(ctx, ts.client(), "a b", "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ts.requests[0].Path; got != "/settings/value?path=a+b" {
		t.Errorf("path = %q", got)
	}
}

func TestSettingsSet_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"settings", "set", "desktop.theme"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for missing value")
	}
}

func TestPrintHistory(t *testing.T) {
	old := noColor
	noColor = true
	defer func() { noColor = old }()

	ts := newTestServer(t, map[string]string{
		"GET /settings/history": `[{"id":"h2","scope":"deskconf/desktop","revision":2,"document":{"theme":"X","background":{"style":"cover","color":"#000000"}},"saved_at":"2026-03-01T10:00:00Z"}]`,
	})

	var buf bytes.Buffer
	if err := printHistory(ctx, ts.client(), &buf, "deskconf/desktop", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "#2") || !strings.Contains(out, "deskconf/desktop") || !strings.Contains(out, "3 keys") {
		t.Errorf("output = %q", out)
	}
	if got := ts.requests[0].Path; got != "/settings/history?limit=5&scope=deskconf%2Fdesktop" {
		t.Errorf("path = %q", got)
	}
}

func TestPrintHistory_Empty(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /settings/history": `[]`,
	})

	var buf bytes.Buffer
	if err := printHistory(ctx, ts.client(), &buf, "", 20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "No saved revisions") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestPrintForm(t *testing.T) {
	old := noColor
	noColor = true
	defer func() { noColor = old }()

	ts := newTestServer(t, map[string]string{
		"POST /sessions": `{"id":"s1","sections":[
			{"title":"Themes","controls":[{"kind":"choice","path":"desktop.theme","label":"Style","display":"Standard Theme","options":[{"value":"StandardTheme","label":"Standard Theme"}]}]},
			{"title":"Background","controls":[{"kind":"dialog","path":"desktop.background.color","label":"Color","display":"#572a79","read_only":true}]}
		]}`,
		"DELETE /sessions/s1": `{"status":"closed"}`,
	})

	var buf bytes.Buffer
	if err := printForm(ctx, ts.client(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"Themes", "Style", "[Standard Theme]", "#572a79 (dialog)", "desktop.background.color"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if len(ts.requests) != 2 || ts.requests[1].Method != "DELETE" {
		t.Errorf("session was not closed: %+v", ts.requests)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	err := ts.client().call(ctx, http.MethodGet, "/health", nil, nil)
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if result := colorize(colorGreen, "test message"); result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	if result := colorize(colorGreen, "test message"); !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestPrintSetting(t *testing.T) {
	old := noColor
	noColor = true
	defer func() { noColor = old }()

	tests := []struct {
		source string
		want   string
	}{
		{"settings", "  desktop.theme = X\n"},
		{"defaults", "  desktop.theme = X (default)\n"},
		{"unset", "  desktop.theme (unset)\n"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		printSetting(&buf, "desktop.theme", "X", tt.source)
		if buf.String() != tt.want {
			t.Errorf("%s: got %q, want %q", tt.source, buf.String(), tt.want)
		}
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"unauthorized","type":"auth_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	var result any
	err := client.call(ctx, http.MethodGet, "/settings", nil, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if got, want := err.Error(), "server returned 401 (auth_error): unauthorized"; got != want {
		t.Errorf("error = %q, want %q", got, want)
	}
}

func TestDecodeJSON_PlainErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, httpClient: ts.Client()}
	err := client.call(ctx, http.MethodGet, "/settings", nil, nil)
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	if got, want := err.Error(), "server returned 502: bad gateway"; got != want {
		t.Errorf("error = %q, want %q", got, want)
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4100
	cfg.Desktop.ApplyCommand = "xfdesktop --reload"

	found := map[string]string{}
	for _, k := range config.ShowAll(cfg) {
		found[k.Key] = k.Value
	}
	if found["server.port"] != "4100" {
		t.Errorf("server.port = %q", found["server.port"])
	}
	if found["desktop.apply_command"] != "xfdesktop --reload" {
		t.Errorf("desktop.apply_command = %q", found["desktop.apply_command"])
	}
}

func TestCountLabel(t *testing.T) {
	tests := []struct {
		count, limit int
		want         string
	}{
		{5, 100, "5"},
		{0, 100, "0"},
		{100, 100, "100+"},
		{150, 100, "150+"},
	}
	for _, tt := range tests {
		if got := countLabel(tt.count, tt.limit); got != tt.want {
			t.Errorf("countLabel(%d, %d) = %q, want %q", tt.count, tt.limit, got, tt.want)
		}
	}
}

func TestLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := logLevel(in); got != want {
			t.Errorf("logLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
