package service

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"recovery-service/internal/models"
	"recovery-service/internal/provider"
)

const basePrompt = `You are a friendly assistant calling on behalf of {{.Shop}}.
{{or .CustomerName "The customer"}} left items in their cart{{if .Items}} ({{.Items}}){{end}} worth {{.Total}}.
Ask whether they had any trouble completing the purchase, answer questions briefly,
and offer to send the checkout link{{if .CheckoutURL}} ({{.CheckoutURL}}){{end}}.
Never pressure the customer. End the call politely if they are not interested.`

const firstMessage = `Hi{{if .CustomerName}} {{.CustomerName}}{{end}}, this is a quick call from {{.Shop}} about the items you left in your cart. Do you have a minute?`

var (
	basePromptTmpl   = template.Must(template.New("prompt").Parse(basePrompt))
	firstMessageTmpl = template.Must(template.New("first").Parse(firstMessage))
)

type promptData struct {
	Shop         string
	CustomerName string
	Items        string
	Total        string
	CheckoutURL  string
}

// BuildCallRequest assembles the provider request for a claimed job
func BuildCallRequest(st *models.Settings, c *models.Checkout, job *models.CallJob) (provider.CallRequest, error) {
	data := promptData{
		Shop:         st.Shop,
		CustomerName: c.CustomerName,
		Items:        c.ItemsPreview,
		Total:        FormatMoney(c.ValueCents, c.Currency),
		CheckoutURL:  c.CheckoutURL,
	}

	var prompt, first bytes.Buffer
	if err := basePromptTmpl.Execute(&prompt, data); err != nil {
		return provider.CallRequest{}, fmt.Errorf("failed to render prompt: %w", err)
	}
	if err := firstMessageTmpl.Execute(&first, data); err != nil {
		return provider.CallRequest{}, fmt.Errorf("failed to render first message: %w", err)
	}
	if extra := strings.TrimSpace(st.Prompt); extra != "" {
		prompt.WriteString("\n\nMerchant instructions:\n")
		prompt.WriteString(extra)
	}

	phone := job.Phone
	if phone == "" {
		phone = c.Phone
	}

	return provider.CallRequest{
		AssistantID:   st.AssistantID,
		PhoneNumberID: st.PhoneNumberID,
		CustomerPhone: phone,
		CustomerName:  c.CustomerName,
		SystemPrompt:  prompt.String(),
		FirstMessage:  first.String(),
		Variables: map[string]string{
			"shop":          st.Shop,
			"customer_name": c.CustomerName,
			"cart_total":    data.Total,
			"items_preview": c.ItemsPreview,
			"checkout_url":  c.CheckoutURL,
		},
		Metadata: provider.Metadata{
			Shop:       job.Shop,
			CallJobID:  job.ID,
			CheckoutID: job.CheckoutID,
		},
	}, nil
}

// FormatMoney renders minor units as "12.34 USD"
func FormatMoney(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, currency)
}
