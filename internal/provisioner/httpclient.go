package provisioner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2/clientcredentials"
)

// ManagementClient is the shared HTTP client shape for talking to a broker's
// management REST API, grounded directly on the teacher's
// pkg/mattermost.Client.do helper: marshal → authenticated request → status
// check → decode. Wrapped in a circuit breaker per host so a broken
// management endpoint fails fast instead of hanging every provision call.
type ManagementClient struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewManagementClient builds a client authenticating with HTTP Basic auth.
func NewManagementClient(baseURL, username, password string, breakerTimeout string) *ManagementClient {
	return &ManagementClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		httpClient: &http.Client{},
		breaker:    newBreaker(baseURL, breakerTimeout),
	}
}

// NewOAuthManagementClient builds a client authenticating via OAuth2
// client-credentials, for management APIs that require a bearer token
// instead of HTTP Basic (spec.md §4.4's optional oauth_token_url host
// setting).
func NewOAuthManagementClient(ctx context.Context, baseURL, tokenURL, clientID, clientSecret, breakerTimeout string) *ManagementClient {
	cc := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	return &ManagementClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: cc.Client(ctx),
		breaker:    newBreaker(baseURL, breakerTimeout),
	}
}

func newBreaker(name, timeoutStr string) *gobreaker.CircuitBreaker {
	// timeoutStr is how long the breaker stays open; an empty or unparsable
	// value leaves it zero, which gobreaker replaces with its 60s default.
	timeout, _ := time.ParseDuration(timeoutStr)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

// IsEnabled reports whether the client has a configured base URL.
func (c *ManagementClient) IsEnabled() bool {
	return c.baseURL != ""
}

func (c *ManagementClient) Do(ctx context.Context, method, path string, body any, result any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.do(ctx, method, path, body, result)
	})
	return err
}

func (c *ManagementClient) do(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("management API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
