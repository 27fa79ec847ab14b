package security

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/moldovadirect/cart-engine/internal/domain"
	"github.com/moldovadirect/cart-engine/pkg/httpclient"
)

// SecureClient calls the remote secure-mutation endpoint. The server
// performs the mutation authoritatively and returns the canonical
// product state, which the gate mirrors into local state.
type SecureClient struct {
	baseURL string
	http    *httpclient.Client
}

// NewSecureClient builds a client for the secure endpoint at baseURL.
func NewSecureClient(baseURL string, cfg httpclient.Config) *SecureClient {
	return &SecureClient{
		baseURL: baseURL,
		http:    httpclient.New(cfg),
	}
}

type mutationRequest struct {
	Operation string `json:"operation"`
	SessionID string `json:"sessionId"`
	Payload   any    `json:"payload"`
}

// MutationResult is the canonical state returned by the secure
// endpoint.
type MutationResult struct {
	Product *domain.Product `json:"product,omitempty"`
}

// Mutate submits one operation for server-side execution.
func (c *SecureClient) Mutate(ctx context.Context, operation, sessionID string, payload any) (*MutationResult, error) {
	body, err := json.Marshal(mutationRequest{
		Operation: operation,
		SessionID: sessionID,
		Payload:   payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s mutation: %w", operation, err)
	}

	resp, err := c.http.Post(ctx, c.baseURL+"/api/v1/cart/secure", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("secure %s call: %w", operation, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, "secure endpoint")
	}
	defer resp.Body.Close()

	var result MutationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode secure %s response: %w", operation, err)
	}
	return &result, nil
}
