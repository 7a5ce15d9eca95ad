package authsdk

import (
	"context"
	"net/http"
	"net/url"
)

const featureFlagsPath = "/flags"

// GetFeatureFlags returns the raw flag document for the current client id,
// a flat JSON object of flag name to string value. Parsing is left to the
// caller so an unexpected value for one flag cannot fail the whole fetch.
func (c *Client) GetFeatureFlags(ctx context.Context) (string, error) {
	resp, cancel, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   featureFlagsPath + "?client_id=" + url.QueryEscape(c.ClientID()),
	})
	if err != nil {
		return "", err
	}
	defer cancel()

	body, err := readBody(resp)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
