// README: Payment provider checkout client and callback signature check.
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"ridematch/internal/types"
)

type CheckoutRequest struct {
	PaymentID   types.ID
	Amount      int64
	Currency    string
	Method      Method
	PassengerID types.ID
	ReturnURL   string
}

type Checkout struct {
	Reference string
	URL       string
}

type Gateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
}

type HTTPGateway struct {
	baseURL    string
	privateKey string
	client     *http.Client
}

func NewHTTPGateway(baseURL, privateKey string) *HTTPGateway {
	return &HTTPGateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		privateKey: privateKey,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (g *HTTPGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	body := map[string]any{
		"reference":          string(req.PaymentID),
		"amount_in_cents":    req.Amount * 100,
		"currency":           req.Currency,
		"payment_method":     string(req.Method),
		"customer_reference": string(req.PassengerID),
		"redirect_url":       req.ReturnURL,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/checkouts", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.privateKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("create checkout failed: %s", resp.Status)
	}

	var out struct {
		Data struct {
			ID          string `json:"id"`
			CheckoutURL string `json:"checkout_url"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.Data.ID == "" {
		return nil, errors.New("gateway: empty checkout id")
	}
	return &Checkout{Reference: out.Data.ID, URL: out.Data.CheckoutURL}, nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares in constant time. An empty secret rejects everything.
func VerifySignature(secret, signature string, body []byte) bool {
	if secret == "" || signature == "" {
		return false
	}
	want := Sign(secret, body)
	return hmac.Equal([]byte(want), []byte(strings.ToLower(signature)))
}
