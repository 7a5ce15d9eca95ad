package controller

import "errors"

var (
	ErrFailedToExchangeCode = errors.New("controller: failed to exchange code")
	ErrFailedToRefresh      = errors.New("controller: failed to refresh token")
	ErrStepUpRequired       = errors.New("controller: step-up required")
	ErrCanceled             = errors.New("controller: canceled")
	ErrNotAuthenticated     = errors.New("controller: not authenticated")
	ErrFailedToSwitchTenant = errors.New("controller: failed to switch tenant")

	// ErrSuperseded is returned when a newer login, logout or refresh began
	// while this one was in flight. Its result was discarded.
	ErrSuperseded = errors.New("controller: superseded by a newer operation")
)
