package httpclient

// HTTPClientInterface defines the interface for HTTP client implementations.
// CLI commands depend on this rather than the concrete client so tests can
// substitute a stub.
type HTTPClientInterface interface {
	// DoRequest makes an HTTP request with the given options.
	// Returns the response body, Location header (if present), and any error
	// that occurred.
	DoRequest(opts RequestOptions) ([]byte, string, error)
}

// Compile-time check that the concrete client satisfies the interface.
var _ HTTPClientInterface = &HTTPClient{}
