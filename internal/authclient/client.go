package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// maxErrorBody bounds how much of a failed response is kept in a StatusError.
const maxErrorBody = 64 << 10

// Client issues application API calls through a Transport.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewClient creates a Client sending requests relative to baseURL through transport.
func NewClient(baseURL string, transport http.RoundTripper) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if transport == nil {
		return nil, fmt.Errorf("missing transport")
	}

	return &Client{
		baseURL:    u,
		httpClient: &http.Client{Transport: transport},
	}, nil
}

// HTTPClient returns the underlying *http.Client for callers that build their own requests.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// NewRequest builds a request for path, joined onto the base URL's path.
// A non-nil body is encoded as JSON.
// The body is replayable, so the request can be retried after a token refresh.
func (c *Client) NewRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", path, err)
	}

	// path is relative to the base URL's path, like the auth API's endpoints
	u := c.baseURL.JoinPath(ref.Path)
	u.RawQuery = ref.RawQuery

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// Do sends req. Responses outside 2xx are returned as *StatusError with the body consumed.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			Method:     req.Method,
			URL:        req.URL.Redacted(),
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}

	return resp, nil
}

// DoJSON sends in as JSON to path and decodes the response into out when non-nil.
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	req, err := c.NewRequest(ctx, method, path, in)
	if err != nil {
		return err
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// GetJSON is shorthand for DoJSON with GET and no request body.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.DoJSON(ctx, http.MethodGet, path, nil, out)
}
