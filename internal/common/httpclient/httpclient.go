// Package httpclient provides a configurable HTTP client for the relay's
// JSON surfaces: the CLI talking to a running relay and the relay talking to
// the upstream usage endpoint. It handles bearer authentication, request
// building, and error-body decoding. The Configurator implementation supplies
// the server URL and credentials.
package httpclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// Configurator defines the interface for providing server configuration and
// authentication details.
type Configurator interface {
	GetServerURL() string
	GetToken() string
	GetTokenExpiry() time.Time
}

// ServerError represents an error response body with a result code and error
// message, the shape every relay error handler produces.
type ServerError struct {
	Result int    `json:"result"` // result code from server
	Error  string `json:"error"`  // error message from server
}

// HTTPError represents an error response from the server with HTTP status
// code and message.
type HTTPError struct {
	StatusCode int    // HTTP status code of the error
	Message    string // Error message or response body
}

// Error implements the error interface for HTTPError.
func (e *HTTPError) Error() string {
	return e.Message
}

// HTTPClient represents a client for making HTTP requests to a JSON API
// server.
type HTTPClient struct {
	config     Configurator
	httpClient *http.Client
}

// ClientOptions contains options for configuring the HTTP client.
type ClientOptions struct {
	Timeout time.Duration // per-request timeout; zero means 30s
}

// NewClient creates a new HTTP client using the provided configuration.
func NewClient(config Configurator, opts ...ClientOptions) *HTTPClient {
	clientOpts := ClientOptions{}
	if len(opts) > 0 {
		clientOpts = opts[0]
	}
	if clientOpts.Timeout == 0 {
		clientOpts.Timeout = 30 * time.Second
	}
	return &HTTPClient{
		config: config,
		httpClient: &http.Client{
			Timeout: clientOpts.Timeout,
		},
	}
}

// RequestOptions contains options for making HTTP requests.
// All fields are optional except Method and Path.
type RequestOptions struct {
	Method      string            // HTTP method (GET, POST, PUT, DELETE)
	Path        string            // API endpoint path
	QueryParams map[string]string // Optional query parameters
	Headers     map[string]string // Optional additional headers
	Body        []byte            // Optional request body
}

// DoRequest makes an HTTP request with the given options.
// Returns the response body, Location header (if present), and any error that
// occurred. A bearer token is attached when the Configurator supplies one
// that has not expired.
func (c *HTTPClient) DoRequest(opts RequestOptions) ([]byte, string, error) {
	u, err := url.Parse(c.config.GetServerURL())
	if err != nil {
		return nil, "", fmt.Errorf("invalid server URL: %v", err)
	}
	u.Path = path.Join(u.Path, opts.Path)

	q := u.Query()
	for k, v := range opts.QueryParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	bodyReader := bytes.NewBuffer(opts.Body)
	req, err := http.NewRequest(opts.Method, u.String(), bodyReader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	if token := c.config.GetToken(); token != "" {
		expiry := c.config.GetTokenExpiry()
		if expiry.IsZero() || time.Now().Before(expiry) {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response body: %v", err)
	}

	if resp.StatusCode >= 400 {
		var serverErr ServerError
		if err := json.Unmarshal(body, &serverErr); err == nil && serverErr.Error != "" {
			return nil, "", &HTTPError{
				StatusCode: resp.StatusCode,
				Message:    serverErr.Error,
			}
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, "", &HTTPError{
				StatusCode: resp.StatusCode,
				Message:    "server doesn't implement this endpoint",
			}
		}
		return nil, "", &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
	}

	return body, resp.Header.Get("Location"), nil
}
