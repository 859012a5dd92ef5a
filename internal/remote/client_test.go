package remote

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
)

func newTestClient(t *testing.T, baseURL string, opts Options) *Client {
	t.Helper()

	client, err := NewClient(baseURL, opts)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return client
}

func TestClientInspect(t *testing.T) {
	var gotPath, gotAPIKey string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-API-Key")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"Id":     "abc123",
			"Name":   "/web",
			"State":  map[string]interface{}{"Status": "running", "Running": true},
			"Config": map[string]interface{}{"Image": "nginx:latest"},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, Options{
		Credentials: Credentials{APIKey: "ptr_key"},
	})

	snapshot, err := client.Inspect(context.Background(), 3, "abc123")
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}

	if gotPath != "/api/endpoints/3/docker/containers/abc123/json" {
		t.Errorf("request path = %q", gotPath)
	}
	if gotAPIKey != "ptr_key" {
		t.Errorf("X-API-Key header = %q, want ptr_key", gotAPIKey)
	}
	if snapshot.ID != "abc123" || snapshot.Name != "/web" {
		t.Errorf("snapshot = %+v", snapshot)
	}
	if snapshot.Config == nil || snapshot.Config.Image != "nginx:latest" {
		t.Errorf("snapshot config not decoded")
	}
}

func TestClientNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"no such container"}`, http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, Options{
		Credentials: Credentials{APIKey: "ptr_key"},
	})

	_, err := client.Inspect(context.Background(), 1, "missing")
	if !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestClientReauthenticatesOn401(t *testing.T) {
	var authCalls, inspectCalls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth" {
			authCalls.Add(1)
			var creds map[string]string
			_ = json.NewDecoder(r.Body).Decode(&creds)
			if creds["username"] != "admin" || creds["password"] != "secret" {
				http.Error(w, "bad credentials", http.StatusUnprocessableEntity)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"jwt": "fresh-token"})
			return
		}

		inspectCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"Id": "abc123"})
	}))
	defer server.Close()

	tokens := NewTokenStore()
	tokens.Set(server.URL, "stale-token")

	client := newTestClient(t, server.URL, Options{
		Credentials: Credentials{Username: "admin", Password: "secret"},
		Tokens:      tokens,
	})

	snapshot, err := client.Inspect(context.Background(), 1, "abc123")
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if snapshot.ID != "abc123" {
		t.Errorf("snapshot ID = %q", snapshot.ID)
	}

	if authCalls.Load() != 1 {
		t.Errorf("auth calls = %d, want 1", authCalls.Load())
	}
	if inspectCalls.Load() != 2 {
		t.Errorf("inspect calls = %d, want 2 (stale then retry)", inspectCalls.Load())
	}

	// The refreshed token is persisted for later calls
	if token, ok := tokens.Get(server.URL); !ok || token != "fresh-token" {
		t.Errorf("token store holds (%q, %v), want fresh-token", token, ok)
	}
}

func TestClientFailsOverToCachedIPAndSticks(t *testing.T) {
	var requests atomic.Int32
	var gotHost string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		gotHost = r.Host
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"Id": "abc123"})
	}))
	defer server.Close()

	port := server.URL[strings.LastIndex(server.URL, ":")+1:]

	// A hostname that never resolves stands in for the proxy being down
	instanceURL := "http://pilotdeck-upgrade-test.invalid:" + port

	client := newTestClient(t, instanceURL, Options{
		Credentials: Credentials{APIKey: "ptr_key"},
		Failover: NewFailoverResolver(StaticIPCache{
			CanonicalURL(instanceURL): "127.0.0.1",
		}),
		ProxyFronted: true,
	})

	ctx := context.Background()

	if _, err := client.Inspect(ctx, 1, "abc123"); err != nil {
		t.Fatalf("first Inspect should fail over, got error: %v", err)
	}
	if gotHost != "pilotdeck-upgrade-test.invalid:"+port {
		t.Errorf("Host header = %q, want original hostname", gotHost)
	}

	// Subsequent calls go straight to the IP base
	if _, err := client.Inspect(ctx, 1, "abc123"); err != nil {
		t.Fatalf("second Inspect returned error: %v", err)
	}
	if base := client.base(); !strings.Contains(base, "127.0.0.1") {
		t.Errorf("client base after failover = %q, want IP base", base)
	}
	if requests.Load() != 2 {
		t.Errorf("served requests = %d, want 2", requests.Load())
	}
}

func TestClientNoFailoverWhenNotProxyFronted(t *testing.T) {
	instanceURL := "http://pilotdeck-upgrade-test.invalid:9000"

	client := newTestClient(t, instanceURL, Options{
		Credentials: Credentials{APIKey: "ptr_key"},
		Failover: NewFailoverResolver(StaticIPCache{
			CanonicalURL(instanceURL): "127.0.0.1",
		}),
		ProxyFronted: false,
	})

	_, err := client.Inspect(context.Background(), 1, "abc123")
	if !IsNetworkUnreachable(err) {
		t.Fatalf("expected NetworkUnreachableError, got %v", err)
	}
}

func TestClientCreate(t *testing.T) {
	var gotName, gotImage string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query, _ := url.ParseQuery(r.URL.RawQuery)
		gotName = query.Get("name")

		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotImage, _ = body["Image"].(string)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"Id": "created-id"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, Options{
		Credentials: Credentials{APIKey: "ptr_key"},
	})

	spec := &CreationSpec{}
	spec.Image = "nginx:1.27"

	id, err := client.Create(context.Background(), 2, spec, "web")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if id != "created-id" {
		t.Errorf("created ID = %q", id)
	}
	if gotName != "web" {
		t.Errorf("name query = %q", gotName)
	}
	if gotImage != "nginx:1.27" {
		t.Errorf("image in body = %q", gotImage)
	}
}

func TestClientListContainers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("all") != "1" {
			t.Errorf("expected all=1 in query, got %q", r.URL.RawQuery)
		}
		fmt.Fprint(w, `[{"Id":"c1","Names":["/web"]},{"Id":"c2","Names":["/db"]}]`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, Options{
		Credentials: Credentials{APIKey: "ptr_key"},
	})

	containers, err := client.ListContainers(context.Background(), 1)
	if err != nil {
		t.Fatalf("ListContainers returned error: %v", err)
	}
	if len(containers) != 2 || containers[0].ID != "c1" {
		t.Errorf("containers = %+v", containers)
	}
}

func TestClientRejectsTraversalIDs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should never reach the server")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, Options{
		Credentials: Credentials{APIKey: "ptr_key"},
	})

	if _, err := client.Inspect(context.Background(), 1, "../../../admin"); err == nil {
		t.Fatal("expected validation error for traversal ID")
	}
}

func TestDemuxLogs(t *testing.T) {
	frame := func(stream byte, payload string) []byte {
		header := make([]byte, 8)
		header[0] = stream
		binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
		return append(header, payload...)
	}

	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "tty output passes through",
			input:    []byte("plain log line\n"),
			expected: "plain log line\n",
		},
		{
			name:     "single stdout frame",
			input:    frame(1, "hello\n"),
			expected: "hello\n",
		},
		{
			name:     "mixed stdout and stderr frames",
			input:    append(frame(1, "out\n"), frame(2, "err\n")...),
			expected: "out\nerr\n",
		},
		{
			name:     "empty",
			input:    nil,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := demuxLogs(tt.input); got != tt.expected {
				t.Errorf("demuxLogs() = %q, want %q", got, tt.expected)
			}
		})
	}
}
