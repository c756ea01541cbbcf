/**
 * @description
 * This package provides a client for the platform's internal mail service.
 * It encapsulates the logic for making authenticated HTTP requests to deliver
 * top-up invoices to clients by email, handling request body construction and
 * parsing responses.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 * - github.com/shopspring/decimal: Exact currency amounts on the wire.
 */
package mailclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fitsched/billing-service/internal/domain"
)

// Client is a client for the mail service.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new mail service client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// invoiceEmailRequest is the payload for the mail service's invoice endpoint.
type invoiceEmailRequest struct {
	InvoiceID  uuid.UUID          `json:"invoice_id"`
	ClientID   uuid.UUID          `json:"client_id"`
	ClientName string             `json:"client_name"`
	Amount     decimal.Decimal    `json:"amount"`
	DueDate    time.Time          `json:"due_date"`
	LineItems  []invoiceEmailLine `json:"line_items"`
}

type invoiceEmailLine struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// ErrorResponse represents an error from the mail service.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e *ErrorResponse) ErrorString() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// SendInvoice delivers a top-up invoice email to the client. It satisfies the
// billing engine's InvoiceSender interface.
func (c *Client) SendInvoice(ctx context.Context, invoice *domain.Invoice, clientName string) error {
	payload := invoiceEmailRequest{
		InvoiceID:  invoice.ID,
		ClientID:   invoice.ClientID,
		ClientName: clientName,
		Amount:     invoice.Amount,
		DueDate:    invoice.DueDate,
	}
	for _, item := range invoice.LineItems {
		payload.LineItems = append(payload.LineItems, invoiceEmailLine{
			Description: item.Description,
			Amount:      item.Amount,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal invoice email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/emails/invoice", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create invoice email request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-internal-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute invoice email request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read invoice email response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=mail_client op=send_invoice invoice_id=%s status=%d msg=\"non-2xx response (unparsable error body)\"", invoice.ID, resp.StatusCode)
			return fmt.Errorf("mail service returned status %d", resp.StatusCode)
		}
		log.Printf("level=warn component=mail_client op=send_invoice invoice_id=%s status=%d detail=%q", invoice.ID, resp.StatusCode, errResp.ErrorString())
		return fmt.Errorf("mail service rejected invoice email (status %d): %s", resp.StatusCode, errResp.ErrorString())
	}

	return nil
}
