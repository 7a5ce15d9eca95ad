package domain

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	ErrUnknownRegion = errors.New("domain: unknown region")
	ErrInvalidRegion = errors.New("domain: invalid region")
)

// RegionConfig is one identity service deployment the app can sign in to.
type RegionConfig struct {
	Key           string `json:"key"`
	BaseURL       string `json:"baseUrl"`
	ClientID      string `json:"clientId"`
	ApplicationID string `json:"applicationId,omitempty"` // optional
}

// Validate checks that the region is usable: a key, a client id and an
// absolute https origin.
func (r RegionConfig) Validate() error {
	if r.Key == "" {
		return fmt.Errorf("%w: missing key", ErrInvalidRegion)
	}
	if r.ClientID == "" {
		return fmt.Errorf("%w: region %q missing client id", ErrInvalidRegion, r.Key)
	}

	u, err := url.Parse(r.BaseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: region %q base url %q", ErrInvalidRegion, r.Key, r.BaseURL)
	}
	if u.Scheme != "https" && u.Hostname() != "localhost" && u.Hostname() != "127.0.0.1" {
		return fmt.Errorf("%w: region %q base url must be https", ErrInvalidRegion, r.Key)
	}

	return nil
}

// Regions is the configured deployment set, in configuration order.
type Regions []RegionConfig

// Find returns the region with the given key.
func (rs Regions) Find(key string) (RegionConfig, error) {
	for _, r := range rs {
		if r.Key == key {
			return r, nil
		}
	}
	return RegionConfig{}, fmt.Errorf("%w: %q", ErrUnknownRegion, key)
}

// Validate checks every region and that keys are unique.
func (rs Regions) Validate() error {
	if len(rs) == 0 {
		return fmt.Errorf("%w: no regions configured", ErrInvalidRegion)
	}

	seen := make(map[string]struct{}, len(rs))
	for _, r := range rs {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, dup := seen[r.Key]; dup {
			return fmt.Errorf("%w: duplicate key %q", ErrInvalidRegion, r.Key)
		}
		seen[r.Key] = struct{}{}
	}
	return nil
}
