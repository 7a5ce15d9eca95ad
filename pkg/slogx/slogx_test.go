package slogx_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aussiebroadwan/hostedauth/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slogx.New(slogx.Config{
		Service: "hostedauth",
		Version: "test",
		Env:     "test",
		Level:   "debug",
		Format:  "json",
		Output:  &buf,
	})

	logger.Info("hello", slogx.Token("access_token", "secret-token-value"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "hello", line["msg"])
	require.Equal(t, "hostedauth", line["service"])
	require.NotContains(t, buf.String(), "secret-token-value")
	require.Len(t, line["access_token"], 12)
}

func TestFromContext_Default(t *testing.T) {
	require.NotNil(t, slogx.FromContext(context.Background()))
}

func TestTransport_SetsRequestID(t *testing.T) {
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("X-Request-ID")
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	var buf bytes.Buffer
	logger := slogx.New(slogx.Config{Level: "debug", Format: "json", Output: &buf})

	client := &http.Client{Transport: slogx.NewTransport(logger, nil)}
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/probe", nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	require.NotEmpty(t, seen)
	require.Empty(t, req.Header.Get("X-Request-ID"), "caller request must not be mutated")
	require.Contains(t, buf.String(), `"path":"/probe"`)
}
