package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// request describes one call to the identity service.
type request struct {
	method  string
	path    string
	body    any // JSON-encoded when non-nil
	bearer  string
	cookies []*http.Cookie
	timeout time.Duration

	// noRedirect stops the client from following 3xx so Location and
	// Set-Cookie on the redirect itself stay visible.
	noRedirect bool
}

// url builds a complete URL by appending the path to the base URL.
func (c *Client) url(path string) string {
	return c.BaseURL() + path
}

// do performs req with its own timeout. The returned cancel func must be
// called once the body has been consumed.
func (c *Client) do(ctx context.Context, req request) (*http.Response, context.CancelFunc, error) {
	timeout := req.timeout
	if timeout <= 0 {
		timeout = c.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)

	var body io.Reader
	if req.body != nil {
		buf, err := json.Marshal(req.body)
		if err != nil {
			cancel()
			return nil, nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.url(req.path), body)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.bearer)
	}
	for _, ck := range req.cookies {
		httpReq.AddCookie(ck)
	}

	client := c.HTTPClient
	if req.noRedirect {
		client = &http.Client{
			Timeout:   c.HTTPClient.Timeout,
			Transport: c.HTTPClient.Transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, nil, &TransportError{Op: req.method + " " + req.path, Err: err}
	}

	return resp, cancel, nil
}

// doJSON performs req and decodes a 2xx JSON body into target (skipped when
// target is nil). Non-2xx responses become typed errors.
func (c *Client) doJSON(ctx context.Context, req request, target any) (*http.Response, error) {
	resp, cancel, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	return resp, decodeJSON(resp, target)
}

// decodeJSON reads the body once for both error parsing and success decoding.
func decodeJSON(resp *http.Response, target any) error {
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: "read body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseErrorResponse(resp, bodyBytes)
	}

	if target == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	return decodeBytes(resp.StatusCode, bodyBytes, target)
}

// decodeBytes unmarshals a success body. An empty body leaves target untouched.
func decodeBytes(status int, body []byte, target any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	if err := json.Unmarshal(body, target); err != nil {
		return &DecodeError{StatusCode: status, Err: err}
	}

	return nil
}

// readBody returns the raw body of a 2xx response or a typed error.
func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseErrorResponse(resp, bodyBytes)
	}

	return bodyBytes, nil
}
