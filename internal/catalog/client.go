// Package catalog talks to the product catalog service. It is the
// authoritative source the cart reconciles its local product
// snapshots against.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/moldovadirect/cart-engine/internal/domain"
	"github.com/moldovadirect/cart-engine/pkg/httpclient"
)

// Client fetches products and recommendations over HTTP.
type Client struct {
	baseURL string
	http    *httpclient.Client
}

// NewClient builds a catalog client for baseURL.
func NewClient(baseURL string, cfg httpclient.Config) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpclient.New(cfg),
	}
}

type productResponse struct {
	Product domain.Product `json:"product"`
}

type recommendationsResponse struct {
	Products []domain.Product `json:"products"`
}

// GetProduct fetches the current catalog state for a product id. A
// 404 or 410 translates to an error satisfying apperrors.ErrGone,
// which callers treat as a terminal removal signal.
func (c *Client) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	resp, err := c.http.Get(ctx, c.baseURL+"/api/v1/products/"+url.PathEscape(productID))
	if err != nil {
		return nil, fmt.Errorf("catalog get product %s: %w", productID, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, "catalog")
	}
	defer resp.Body.Close()

	var body productResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode product %s: %w", productID, err)
	}
	return &body.Product, nil
}

// GetRecommendations fetches up to limit products from the given
// categories, excluding the listed product ids.
func (c *Client) GetRecommendations(ctx context.Context, categories, exclude []string, limit int) ([]domain.Product, error) {
	q := url.Values{}
	if len(categories) > 0 {
		q.Set("categories", strings.Join(categories, ","))
	}
	if len(exclude) > 0 {
		q.Set("exclude", strings.Join(exclude, ","))
	}
	q.Set("limit", strconv.Itoa(limit))

	resp, err := c.http.Get(ctx, c.baseURL+"/api/v1/products/recommendations?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("catalog get recommendations: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, "catalog")
	}
	defer resp.Body.Close()

	var body recommendationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode recommendations: %w", err)
	}
	return body.Products, nil
}
