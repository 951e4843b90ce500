package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() CallRequest {
	return CallRequest{
		AssistantID:   "asst_1",
		PhoneNumberID: "pn_1",
		CustomerPhone: "+15551234567",
		CustomerName:  "Ada",
		SystemPrompt:  "Be friendly.",
		Variables:     map[string]string{"cart_total": "42.00 USD"},
		Metadata:      Metadata{Shop: "shop-a", CallJobID: "job-1", CheckoutID: "c-1"},
	}
}

func TestVapiCreateCall(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/call", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"call_123","status":"queued"}`))
	}))
	defer srv.Close()

	c := NewVapiClient(VapiConfig{BaseURL: srv.URL, APIKey: "secret", ServerURL: "https://example.test/webhooks/provider"})
	res, err := c.CreateCall(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "call_123", res.ProviderCallID)
	assert.Empty(t, res.Status)

	assert.Equal(t, "asst_1", got["assistantId"])
	meta := got["metadata"].(map[string]interface{})
	assert.Equal(t, "shop-a", meta["shop"])
	assert.Equal(t, "job-1", meta["callJobId"])
	assert.Equal(t, "c-1", meta["checkoutId"])

	overrides := got["assistantOverrides"].(map[string]interface{})
	vars := overrides["variableValues"].(map[string]interface{})
	assert.Equal(t, "Be friendly.", vars["system_prompt"])
	assert.Equal(t, "42.00 USD", vars["cart_total"])
}

func TestVapiCreateCallErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`upstream down`))
	}))
	defer srv.Close()

	c := NewVapiClient(VapiConfig{BaseURL: srv.URL, APIKey: "secret"})
	_, err := c.CreateCall(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	unconfigured := NewVapiClient(VapiConfig{BaseURL: srv.URL})
	_, err = unconfigured.CreateCall(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, c.Configured("", "pn_1"))
}

func TestVapiErrorBodyTruncatedOnRuneBoundary(t *testing.T) {
	body := strings.Repeat("a", 299) + strings.Repeat("é", 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := NewVapiClient(VapiConfig{BaseURL: srv.URL, APIKey: "secret"})
	_, err := c.CreateCall(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, utf8.ValidString(err.Error()))
	assert.True(t, strings.HasSuffix(err.Error(), strings.Repeat("a", 299)+"..."))
}

func TestSimulator(t *testing.T) {
	ok := NewSimulator(1, 0)
	res, err := ok.CreateCall(context.Background(), testRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, res.ProviderCallID)
	assert.Equal(t, "COMPLETED", res.Status)

	bad := NewSimulator(0, 0)
	_, err = bad.CreateCall(context.Background(), testRequest())
	assert.Error(t, err)
}
