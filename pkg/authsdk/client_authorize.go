package authsdk

import (
	"errors"
	"fmt"
	"net/url"
)

// ErrMissingCode is returned when a callback carries neither a code nor an error.
var ErrMissingCode = errors.New("authsdk: callback missing authorization code")

// CallbackError is an error response delivered through the redirect URI,
// e.g. the user cancelling the hosted login.
type CallbackError struct {
	Code        string
	Description string
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("authorization error: %s - %s", e.Code, e.Description)
}

// ParseAuthorizationCallback extracts the authorization code and state from
// a redirect URL.
//
// Example:
//
//	code, state, err := authsdk.ParseAuthorizationCallback("com.app://auth.example.com/ios/oauth/callback?code=xyz")
//	if err != nil {
//	    // user denied or the flow failed
//	}
func ParseAuthorizationCallback(callbackURL string) (code, state string, err error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse callback URL: %w", err)
	}

	query := u.Query()

	if errorCode := query.Get("error"); errorCode != "" {
		return "", "", &CallbackError{Code: errorCode, Description: query.Get("error_description")}
	}

	code = query.Get("code")
	if code == "" {
		return "", "", ErrMissingCode
	}

	return code, query.Get("state"), nil
}
