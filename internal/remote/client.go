package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pilotdeck/pilotdeck/pkg/log"
)

// Options configures a Client
type Options struct {
	Credentials  Credentials
	Tokens       *TokenStore
	Failover     *FailoverResolver
	ProxyFronted bool
	InsecureTLS  bool
	Timeout      time.Duration
}

// Client talks to the remote container-management API over HTTP. When the
// instance is fronted by the container being upgraded, calls that fail at
// the connection level fail over to a cached IP-addressed URL and stay
// there for the remainder of this client's lifetime.
type Client struct {
	instanceURL  string
	instanceHost string
	httpc        *http.Client
	creds        Credentials
	tokens       *TokenStore
	failover     *FailoverResolver

	mu           sync.Mutex
	proxyFronted bool
	activeBase   string
}

// NewClient creates a client for one instance URL
func NewClient(instanceURL string, opts Options) (*Client, error) {
	u, err := url.Parse(instanceURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid instance URL %q", instanceURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("instance URL %q must use http or https", instanceURL)
	}

	tokens := opts.Tokens
	if tokens == nil {
		tokens = NewTokenStore()
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- user opt-in for self-signed instances
	}

	return &Client{
		instanceURL:  strings.TrimSuffix(instanceURL, "/"),
		instanceHost: u.Host,
		httpc: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		creds:        opts.Credentials,
		tokens:       tokens,
		failover:     opts.Failover,
		proxyFronted: opts.ProxyFronted,
	}, nil
}

// SetProxyFronted toggles IP failover for subsequent calls. The coordinator
// flips this on once it knows the upgrade target fronts the instance itself.
func (c *Client) SetProxyFronted(fronted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proxyFronted = fronted
}

// InstanceURL returns the configured hostname URL of the instance
func (c *Client) InstanceURL() string {
	return c.instanceURL
}

// Inspect fetches the full inspect payload for a container
func (c *Client) Inspect(ctx context.Context, endpointID int, containerID string) (InspectSnapshot, error) {
	var snapshot InspectSnapshot

	data, err := c.call(ctx, http.MethodGet, c.dockerPath(endpointID, "containers", containerID, "json"), nil, nil, containerID)
	if err != nil {
		return snapshot, err
	}

	if err := json.Unmarshal(data, &snapshot); err != nil {
		return snapshot, fmt.Errorf("failed to decode inspect response for %s: %w", containerID, err)
	}
	return snapshot, nil
}

// Create creates a container from the given spec and returns its ID
func (c *Client) Create(ctx context.Context, endpointID int, spec *CreationSpec, name string) (string, error) {
	query := url.Values{}
	if name != "" {
		query.Set("name", name)
	}

	data, err := c.call(ctx, http.MethodPost, c.dockerPath(endpointID, "containers", "create"), query, spec, name)
	if err != nil {
		return "", err
	}

	var resp struct {
		ID string `json:"Id"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("failed to decode create response: %w", err)
	}
	return resp.ID, nil
}

// Start starts a container
func (c *Client) Start(ctx context.Context, endpointID int, containerID string) error {
	_, err := c.call(ctx, http.MethodPost, c.dockerPath(endpointID, "containers", containerID, "start"), nil, nil, containerID)
	return err
}

// Stop stops a container
func (c *Client) Stop(ctx context.Context, endpointID int, containerID string) error {
	_, err := c.call(ctx, http.MethodPost, c.dockerPath(endpointID, "containers", containerID, "stop"), nil, nil, containerID)
	return err
}

// Remove force-removes a container
func (c *Client) Remove(ctx context.Context, endpointID int, containerID string) error {
	query := url.Values{}
	query.Set("force", "true")

	_, err := c.call(ctx, http.MethodDelete, c.dockerPath(endpointID, "containers", containerID), query, nil, containerID)
	return err
}

// Logs fetches the last tail lines of a container's output
func (c *Client) Logs(ctx context.Context, endpointID int, containerID string, tail int) (string, error) {
	query := url.Values{}
	query.Set("stdout", "1")
	query.Set("stderr", "1")
	query.Set("tail", strconv.Itoa(tail))

	data, err := c.call(ctx, http.MethodGet, c.dockerPath(endpointID, "containers", containerID, "logs"), query, nil, containerID)
	if err != nil {
		return "", err
	}
	return demuxLogs(data), nil
}

// ListContainers lists all containers on the endpoint, stopped ones included
func (c *Client) ListContainers(ctx context.Context, endpointID int) ([]ContainerSummary, error) {
	query := url.Values{}
	query.Set("all", "1")

	data, err := c.call(ctx, http.MethodGet, c.dockerPath(endpointID, "containers", "json"), query, nil, "")
	if err != nil {
		return nil, err
	}

	var containers []ContainerSummary
	if err := json.Unmarshal(data, &containers); err != nil {
		return nil, fmt.Errorf("failed to decode container list: %w", err)
	}
	if containers == nil {
		containers = []ContainerSummary{}
	}
	return containers, nil
}

// Authenticate obtains a fresh token and stores it under both the hostname
// URL and, when failover is active, the IP alias. With API-key credentials
// the key itself is the token.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	if c.creds.HasAPIKey() {
		c.tokens.SetAll(c.tokenAliases(), c.creds.APIKey)
		return c.creds.APIKey, nil
	}

	payload := map[string]string{
		"username": c.creds.Username,
		"password": c.creds.Password,
	}

	var data []byte
	req := c.requester()
	err := req.do(func(base string) error {
		var rtErr error
		data, rtErr = c.roundTrip(ctx, http.MethodPost, base, []string{"api", "auth"}, nil, payload, "")
		return rtErr
	})
	if err != nil {
		if isConnectionError(err) {
			return "", &NetworkUnreachableError{URL: c.base(), Err: err}
		}
		return "", err
	}

	var resp struct {
		JWT string `json:"jwt"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("failed to decode auth response: %w", err)
	}
	if resp.JWT == "" {
		return "", &AuthenticationError{URL: c.instanceURL, Status: http.StatusOK}
	}

	c.tokens.SetAll(c.tokenAliases(), resp.JWT)
	return resp.JWT, nil
}

// call runs one API request with IP failover and a single
// reauthenticate-and-retry on 401.
func (c *Client) call(ctx context.Context, method string, apiPath []string, query url.Values, body interface{}, resourceID string) ([]byte, error) {
	if err := ValidatePathSegments(apiPath...); err != nil {
		return nil, err
	}

	data, err := c.callOnce(ctx, method, apiPath, query, body, resourceID)
	if err == nil {
		return data, nil
	}

	if IsAuthentication(err) {
		c.tokens.Invalidate(c.instanceURL)
		if _, authErr := c.Authenticate(ctx); authErr != nil {
			return nil, authErr
		}
		return c.callOnce(ctx, method, apiPath, query, body, resourceID)
	}

	if isConnectionError(err) {
		return nil, &NetworkUnreachableError{URL: c.base(), Err: err}
	}
	return nil, err
}

func (c *Client) callOnce(ctx context.Context, method string, apiPath []string, query url.Values, body interface{}, resourceID string) ([]byte, error) {
	var data []byte
	req := c.requester()
	err := req.do(func(base string) error {
		var rtErr error
		data, rtErr = c.roundTrip(ctx, method, base, apiPath, query, body, resourceID)
		return rtErr
	})
	return data, err
}

// requester builds the shared primary/fallback retry wrapper. Once a switch
// happens the IP base becomes the primary for all later calls.
func (c *Client) requester() *requester {
	return &requester{
		primary:   c.base(),
		fallback:  c.fallbackBase,
		retryable: isConnectionError,
		onSwitch: func(from, to string) {
			log.Warnf("Instance %s unreachable via %s, switching to cached address %s", c.instanceURL, from, to)
			c.mu.Lock()
			c.activeBase = to
			c.mu.Unlock()
		},
	}
}

func (c *Client) base() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeBase != "" {
		return c.activeBase
	}
	return c.instanceURL
}

func (c *Client) fallbackBase() (string, bool) {
	c.mu.Lock()
	fronted := c.proxyFronted
	c.mu.Unlock()

	if !fronted || c.failover == nil {
		return "", false
	}

	fb, err := c.failover.Resolve(c.instanceURL)
	if err != nil {
		log.ErrorErr("Failed to resolve failover address", err)
		return "", false
	}
	if fb == "" || strings.TrimSuffix(fb, "/") == c.instanceURL {
		return "", false
	}
	return strings.TrimSuffix(fb, "/"), true
}

func (c *Client) tokenAliases() []string {
	aliases := []string{c.instanceURL}
	if base := c.base(); base != c.instanceURL {
		aliases = append(aliases, base)
	} else if fb, ok := c.fallbackBase(); ok {
		aliases = append(aliases, fb)
	}
	return aliases
}

func (c *Client) roundTrip(ctx context.Context, method, base string, apiPath []string, query url.Values, body interface{}, resourceID string) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	escaped := make([]string, len(apiPath))
	for i, seg := range apiPath {
		escaped[i] = url.PathEscape(seg)
	}
	fullURL := base + "/" + strings.Join(escaped, "/")
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// IP-addressed calls keep the original hostname for virtual-host routing
	if base != c.instanceURL {
		req.Host = c.instanceHost
	}

	c.setAuthHeader(req, base)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &AuthenticationError{URL: base, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &NotFoundError{ID: resourceID}
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%s %s returned status %d: %s", method, strings.Join(apiPath, "/"), resp.StatusCode, bodySnippet(data))
	}
	return data, nil
}

func (c *Client) setAuthHeader(req *http.Request, base string) {
	if c.creds.HasAPIKey() {
		req.Header.Set("X-API-Key", c.creds.APIKey)
		return
	}
	if token, ok := c.tokens.Get(base); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// dockerPath builds the per-endpoint Docker passthrough path
func (c *Client) dockerPath(endpointID int, parts ...string) []string {
	path := []string{"api", "endpoints", strconv.Itoa(endpointID), "docker"}
	return append(path, parts...)
}

func bodySnippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// demuxLogs strips the 8-byte stream-multiplexing headers Docker prepends
// to log frames for non-TTY containers. TTY output passes through as-is.
func demuxLogs(data []byte) string {
	if len(data) < 8 || data[0] > 2 || data[1] != 0 || data[2] != 0 || data[3] != 0 {
		return string(data)
	}

	var out bytes.Buffer
	for len(data) >= 8 {
		size := binary.BigEndian.Uint32(data[4:8])
		data = data[8:]
		if uint32(len(data)) < size {
			out.Write(data)
			break
		}
		out.Write(data[:size])
		data = data[size:]
	}
	return out.String()
}

var _ API = (*Client)(nil)
