package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"recovery-service/internal/util"
)

// VapiConfig configures the Vapi-style HTTP client
type VapiConfig struct {
	BaseURL   string
	APIKey    string
	ServerURL string // webhook URL the provider reports call events to
	Timeout   time.Duration
}

// VapiClient creates calls through a Vapi-compatible REST API
type VapiClient struct {
	cfg        VapiConfig
	httpClient *http.Client
}

// NewVapiClient creates a new provider client
func NewVapiClient(cfg VapiConfig) *VapiClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &VapiClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *VapiClient) Name() string { return "vapi" }

func (c *VapiClient) Configured(assistantID, phoneNumberID string) bool {
	return c.cfg.APIKey != "" && c.cfg.BaseURL != "" && assistantID != "" && phoneNumberID != ""
}

type vapiCustomer struct {
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
}

type vapiOverrides struct {
	FirstMessage   string            `json:"firstMessage,omitempty"`
	VariableValues map[string]string `json:"variableValues,omitempty"`
	ServerURL      string            `json:"serverUrl,omitempty"`
	Metadata       Metadata          `json:"metadata"`
}

type vapiCreateCallRequest struct {
	AssistantID        string        `json:"assistantId"`
	PhoneNumberID      string        `json:"phoneNumberId"`
	Customer           vapiCustomer  `json:"customer"`
	AssistantOverrides vapiOverrides `json:"assistantOverrides"`
	Metadata           Metadata      `json:"metadata"`
}

type vapiCreateCallResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreateCall places an outbound call and returns the provider call id
func (c *VapiClient) CreateCall(ctx context.Context, req CallRequest) (CallResult, error) {
	if !c.Configured(req.AssistantID, req.PhoneNumberID) {
		return CallResult{}, ErrNotConfigured
	}

	vars := make(map[string]string, len(req.Variables)+1)
	for k, v := range req.Variables {
		vars[k] = v
	}
	if req.SystemPrompt != "" {
		vars["system_prompt"] = req.SystemPrompt
	}

	body, err := json.Marshal(vapiCreateCallRequest{
		AssistantID:   req.AssistantID,
		PhoneNumberID: req.PhoneNumberID,
		Customer:      vapiCustomer{Number: req.CustomerPhone, Name: req.CustomerName},
		AssistantOverrides: vapiOverrides{
			FirstMessage:   req.FirstMessage,
			VariableValues: vars,
			ServerURL:      c.cfg.ServerURL,
			Metadata:       req.Metadata,
		},
		Metadata: req.Metadata,
	})
	if err != nil {
		return CallResult{}, fmt.Errorf("failed to marshal create-call request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/call", bytes.NewReader(body))
	if err != nil {
		return CallResult{}, fmt.Errorf("failed to build create-call request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return CallResult{}, fmt.Errorf("create-call request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return CallResult{}, fmt.Errorf("create-call returned %d: %s", resp.StatusCode, truncate(string(respBody), 300))
	}

	var out vapiCreateCallResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return CallResult{}, fmt.Errorf("failed to decode create-call response: %w", err)
	}
	if out.ID == "" {
		return CallResult{}, fmt.Errorf("create-call response has no call id")
	}

	return CallResult{ProviderCallID: out.ID}, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return util.TruncateUTF8(s, n) + "..."
}
