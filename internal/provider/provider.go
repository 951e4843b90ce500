// Package provider adapts the outbound voice-AI calling provider.
//
// The engine only relies on the create-call contract: given a request it
// returns the provider's call id, or an error that the dispatcher feeds into
// its retry policy. Call results arrive later through webhooks.
package provider

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when credentials needed to place a call are missing.
var ErrNotConfigured = errors.New("provider: credentials not configured")

// Caller places outbound calls.
type Caller interface {
	Name() string
	// Configured reports whether the caller can place calls for the given
	// assistant and phone number ids.
	Configured(assistantID, phoneNumberID string) bool
	CreateCall(ctx context.Context, req CallRequest) (CallResult, error)
}

// CallRequest is everything needed to start one recovery call.
type CallRequest struct {
	AssistantID   string
	PhoneNumberID string

	CustomerPhone string
	CustomerName  string

	// SystemPrompt is assembled from merchant settings and checkout context.
	SystemPrompt string
	FirstMessage string
	Variables    map[string]string

	// Metadata is echoed back in every webhook for correlation.
	Metadata Metadata
}

// Metadata correlates provider webhooks with the originating job.
type Metadata struct {
	Shop       string `json:"shop"`
	CallJobID  string `json:"callJobId"`
	CheckoutID string `json:"checkoutId"`
}

// CallResult is the provider's answer to a create-call request.
type CallResult struct {
	ProviderCallID string
	// Status is set only by providers that resolve calls synchronously;
	// it is a terminal job status (COMPLETED or FAILED).
	Status  string
	Outcome string
}
