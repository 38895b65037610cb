// Package shopify implements the Shopify Admin GraphQL client. The client
// owns a token-bucket limiter so every caller, full sync and webhook mirror
// alike, is throttled against the same per-second ceiling.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/gaspcr/shopify-filemaker/internal/config"
	"github.com/gaspcr/shopify-filemaker/internal/engine"
	"github.com/gaspcr/shopify-filemaker/internal/obs"
)

const locationGIDPrefix = "gid://shopify/Location/"

const queryInventoryBySKU = `
query getInventoryBySKU($sku: String!) {
  productVariants(first: 1, query: $sku) {
    edges {
      node {
        id
        sku
        inventoryItem {
          id
          inventoryLevels(first: 5) {
            edges {
              node {
                location { id }
                quantities(names: ["available"]) {
                  name
                  quantity
                }
              }
            }
          }
        }
      }
    }
  }
}`

const mutationSetQuantities = `
mutation inventorySetQuantities($input: InventorySetQuantitiesInput!) {
  inventorySetQuantities(input: $input) {
    userErrors {
      field
      message
    }
    inventoryAdjustmentGroup { id }
  }
}`

// Client talks to one shop's Admin GraphQL API. Satisfies
// engine.StorefrontClient. Safe for concurrent use.
type Client struct {
	baseURL     string
	token       string
	apiVersion  string
	locationGID string
	hc          *http.Client
	limiter     *rate.Limiter
}

// NewClient builds a client from the resolved configuration. A bare
// location ID is normalised to the gid:// form Shopify expects.
func NewClient(cfg config.ShopifyConfig, apiVersion string, requestsPerSecond float64, timeout time.Duration) *Client {
	shopURL := cfg.ShopURL
	if !strings.HasPrefix(shopURL, "https://") && !strings.HasPrefix(shopURL, "http://") {
		shopURL = "https://" + shopURL
	}
	loc := cfg.LocationID
	if !strings.HasPrefix(loc, locationGIDPrefix) {
		loc = locationGIDPrefix + loc
	}
	return &Client{
		baseURL:     strings.TrimRight(shopURL, "/"),
		token:       cfg.AccessToken,
		apiVersion:  apiVersion,
		locationGID: loc,
		hc:          &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// graphql runs one operation and returns the data payload. Rate limiting
// happens in two layers: the local token bucket before the request, and the
// X-Shopify-Shop-Api-Call-Limit header after it, which costs an extra token
// when the shop is near its ceiling.
func (c *Client) graphql(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &engine.APIError{System: "shopify", Message: err.Error()}
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"query":     query,
		"variables": variables,
	})
	endpoint := fmt.Sprintf("%s/admin/api/%s/graphql.json", c.baseURL, c.apiVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return &engine.APIError{System: "shopify", Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.token)

	resp, err := c.hc.Do(req)
	if err != nil {
		return &engine.APIError{System: "shopify", Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	c.observeCallLimit(ctx, resp)

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := resp.Header.Get("Retry-After")
		return &engine.APIError{
			System: "shopify", Status: resp.StatusCode,
			Message: "rate limited, retry after " + retryAfter + "s", Retryable: true,
		}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &engine.AuthError{
			System:  "shopify",
			Message: fmt.Sprintf("HTTP %d: access token rejected", resp.StatusCode),
		}
	}
	if resp.StatusCode >= 500 {
		return &engine.APIError{
			System: "shopify", Status: resp.StatusCode,
			Message: "server error", Retryable: true,
		}
	}
	if resp.StatusCode != http.StatusOK {
		return &engine.APIError{
			System: "shopify", Status: resp.StatusCode, Message: "unexpected status",
		}
	}

	var body gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return &engine.APIError{System: "shopify", Message: "unreadable response: " + err.Error()}
	}
	if len(body.Errors) > 0 {
		msgs := make([]string, len(body.Errors))
		for i, e := range body.Errors {
			msgs[i] = e.Message
		}
		return &engine.APIError{System: "shopify", Message: "GraphQL errors: " + strings.Join(msgs, "; ")}
	}
	if out != nil && len(body.Data) > 0 {
		if err := json.Unmarshal(body.Data, out); err != nil {
			return &engine.APIError{System: "shopify", Message: "decoding data: " + err.Error()}
		}
	}
	return nil
}

// observeCallLimit parses "current/limit" and burns an extra limiter token
// when the shop is at 90% or more of its bucket, slowing us down before
// Shopify starts rejecting with 429.
func (c *Client) observeCallLimit(ctx context.Context, resp *http.Response) {
	header := resp.Header.Get("X-Shopify-Shop-Api-Call-Limit")
	if header == "" {
		return
	}
	parts := strings.SplitN(header, "/", 2)
	if len(parts) != 2 {
		return
	}
	current, err1 := strconv.Atoi(parts[0])
	limit, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || limit == 0 {
		return
	}
	if current*10 >= limit*9 {
		obs.Logger.Warn("shopify_near_rate_limit", "current", current, "limit", limit)
		_ = c.limiter.Wait(ctx)
	}
}

type variantLookup struct {
	ProductVariants struct {
		Edges []struct {
			Node struct {
				ID            string `json:"id"`
				SKU           string `json:"sku"`
				InventoryItem struct {
					ID              string `json:"id"`
					InventoryLevels struct {
						Edges []struct {
							Node struct {
								Location struct {
									ID string `json:"id"`
								} `json:"location"`
								Quantities []struct {
									Name     string `json:"name"`
									Quantity int    `json:"quantity"`
								} `json:"quantities"`
							} `json:"node"`
						} `json:"edges"`
					} `json:"inventoryLevels"`
				} `json:"inventoryItem"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"productVariants"`
}

// lookupVariant returns the inventory item GID and the available quantity
// at the configured location. found is false when the SKU has no variant.
func (c *Client) lookupVariant(ctx context.Context, sku string) (itemGID string, quantity int, found bool, err error) {
	var out variantLookup
	err = c.graphql(ctx, queryInventoryBySKU, map[string]interface{}{"sku": "sku:" + sku}, &out)
	if err != nil {
		return "", 0, false, err
	}

	edges := out.ProductVariants.Edges
	if len(edges) == 0 {
		return "", 0, false, nil
	}

	item := edges[0].Node.InventoryItem
	for _, level := range item.InventoryLevels.Edges {
		if level.Node.Location.ID != c.locationGID {
			continue
		}
		for _, q := range level.Node.Quantities {
			if q.Name == "available" {
				quantity = q.Quantity
				break
			}
		}
		break
	}
	return item.ID, quantity, true, nil
}

// FetchQuantity returns the available quantity for one SKU.
func (c *Client) FetchQuantity(ctx context.Context, sku string) (int, bool, error) {
	_, qty, found, err := c.lookupVariant(ctx, sku)
	if err != nil {
		return 0, false, err
	}
	if !found {
		obs.Logger.Warn("shopify_sku_not_found", "sku", sku)
	}
	return qty, found, nil
}

// FetchQuantities looks up each SKU in turn; the limiter paces the calls.
// SKUs absent from the shop are omitted from the quantities map. A terminal
// error on one SKU's query goes into the failed map and the loop continues;
// transient and auth errors abort the batch because every remaining lookup
// would hit the same wall.
func (c *Client) FetchQuantities(ctx context.Context, skus []string) (map[string]int, map[string]error, error) {
	quantities := make(map[string]int, len(skus))
	failed := make(map[string]error)
	for _, sku := range skus {
		qty, found, err := c.FetchQuantity(ctx, sku)
		if err != nil {
			var ae *engine.AuthError
			if engine.IsTransient(err) || errors.As(err, &ae) {
				return nil, nil, fmt.Errorf("fetching quantity for SKU %s: %w", sku, err)
			}
			obs.Logger.Warn("shopify_sku_fetch_failed", "sku", sku, "error", err)
			failed[sku] = err
			continue
		}
		if found {
			quantities[sku] = qty
		}
	}
	return quantities, failed, nil
}

type setQuantitiesResult struct {
	InventorySetQuantities struct {
		UserErrors []struct {
			Field   []string `json:"field"`
			Message string   `json:"message"`
		} `json:"userErrors"`
		InventoryAdjustmentGroup struct {
			ID string `json:"id"`
		} `json:"inventoryAdjustmentGroup"`
	} `json:"inventorySetQuantities"`
}

// WriteQuantity sets the absolute available quantity for a SKU at the
// configured location. The variant is resolved first to obtain the
// inventory item GID the mutation needs.
func (c *Client) WriteQuantity(ctx context.Context, sku string, quantity int) error {
	itemGID, _, found, err := c.lookupVariant(ctx, sku)
	if err != nil {
		return err
	}
	if !found {
		return &engine.NotFoundError{System: "shopify", SKU: sku}
	}
	if itemGID == "" {
		return &engine.APIError{System: "shopify", Message: "no inventory item for SKU " + sku}
	}

	variables := map[string]interface{}{
		"input": map[string]interface{}{
			"reason": "correction",
			"name":   "available",
			"quantities": []map[string]interface{}{{
				"inventoryItemId": itemGID,
				"locationId":      c.locationGID,
				"quantity":        quantity,
			}},
		},
	}

	var out setQuantitiesResult
	if err := c.graphql(ctx, mutationSetQuantities, variables, &out); err != nil {
		return err
	}

	if errs := out.InventorySetQuantities.UserErrors; len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Message
		}
		return &engine.APIError{
			System:  "shopify",
			Message: fmt.Sprintf("inventory update rejected for SKU %s: %s", sku, strings.Join(msgs, "; ")),
		}
	}

	obs.Logger.Debug("shopify_quantity_written", "sku", sku, "quantity", quantity)
	return nil
}
