// Package fm implements the FileMaker Data API client. FileMaker sessions
// expire after 15 minutes of inactivity, so the client caches its token for
// 14 minutes and re-authenticates transparently when the server reports an
// expired session.
package fm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gaspcr/shopify-filemaker/internal/config"
	"github.com/gaspcr/shopify-filemaker/internal/engine"
	"github.com/gaspcr/shopify-filemaker/internal/model"
	"github.com/gaspcr/shopify-filemaker/internal/obs"
)

const (
	stockLayout     = "StockInventario_dapi"
	movementsLayout = "MovimientoStock_dapi"
	recalcScript    = "ActualizarStock_dapi"

	skuField      = "Conceptos Cobro_pk"
	quantityField = "Inventario"
	nameField     = "Nombre"
	classField    = "Clasificación"

	// Only records classified as sellable products participate in the sync.
	sellableClass = "8"

	// FileMaker envelope codes. "401" here means "no records match", it is
	// not an HTTP 401.
	codeOK           = "0"
	codeNoRecords    = "401"
	codeInvalidToken = "952"

	// Sessions expire server-side after 15 minutes; refresh one minute early.
	tokenTTL = 840 * time.Second

	pageSize = 100
)

// Client talks to one FileMaker database over the Data API. It satisfies
// engine.DirectoryClient. Safe for concurrent use; the session token is the
// only shared mutable state.
type Client struct {
	baseURL  string
	database string
	username string
	password string
	hc       *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewClient builds a client from the resolved configuration. A host without
// a scheme is assumed to be HTTPS.
func NewClient(cfg config.FileMakerConfig, timeout time.Duration) *Client {
	host := cfg.Host
	if !strings.HasPrefix(host, "https://") && !strings.HasPrefix(host, "http://") {
		host = "https://" + host
	}
	return &Client{
		baseURL:  strings.TrimRight(host, "/"),
		database: cfg.Database,
		username: cfg.Username,
		password: cfg.Password,
		hc:       &http.Client{Timeout: timeout},
	}
}

// envelope is the FileMaker Data API response wrapper. Every endpoint
// returns messages[0].code; "0" is success.
type envelope struct {
	Messages []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"messages"`
	Response struct {
		Token       string   `json:"token"`
		RecordID    string   `json:"recordId"`
		ScriptError string   `json:"scriptError"`
		Data        []record `json:"data"`
	} `json:"response"`
}

type record struct {
	RecordID  string                 `json:"recordId"`
	FieldData map[string]interface{} `json:"fieldData"`
}

func (e *envelope) code() string {
	if len(e.Messages) == 0 {
		return ""
	}
	return e.Messages[0].Code
}

func (e *envelope) message() string {
	if len(e.Messages) == 0 {
		return "no messages in response"
	}
	return e.Messages[0].Message
}

// Authenticate ensures a live session token, creating a new session only
// when the cached one has expired.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureSessionLocked(ctx)
}

func (c *Client) ensureSessionLocked(ctx context.Context) error {
	if c.token != "" && time.Now().Before(c.expiresAt) {
		return nil
	}

	obs.Logger.Info("filemaker_authenticating", "database", c.database)

	endpoint := fmt.Sprintf("%s/fmi/data/v1/databases/%s/sessions", c.baseURL, url.PathEscape(c.database))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader("{}"))
	if err != nil {
		return &engine.APIError{System: "filemaker", Message: "session request: " + err.Error()}
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/json")

	// A transport failure is not a credential problem; the server never got
	// to judge the login. Only an explicit rejection becomes an AuthError.
	resp, err := c.hc.Do(req)
	if err != nil {
		return &engine.APIError{
			System: "filemaker", Message: "session request: " + err.Error(), Retryable: true,
		}
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode >= 500 {
		return &engine.APIError{
			System: "filemaker", Status: resp.StatusCode,
			Message: "session request: " + env.message(), Retryable: true,
		}
	}
	if decodeErr != nil && resp.StatusCode == http.StatusOK {
		return &engine.APIError{
			System: "filemaker", Status: resp.StatusCode,
			Message: "unreadable session response: " + decodeErr.Error(),
		}
	}
	if resp.StatusCode != http.StatusOK || env.Response.Token == "" {
		return &engine.AuthError{
			System:  "filemaker",
			Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, env.message()),
		}
	}

	c.token = env.Response.Token
	c.expiresAt = time.Now().Add(tokenTTL)
	obs.Logger.Info("filemaker_authenticated")
	return nil
}

func (c *Client) sessionToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureSessionLocked(ctx); err != nil {
		return "", err
	}
	return c.token, nil
}

func (c *Client) invalidateToken(stale string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == stale {
		c.token = ""
		c.expiresAt = time.Time{}
	}
}

// do issues one authenticated request, refreshing the session and retrying
// once when the server reports an expired token.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*envelope, error) {
	env, expired, err := c.doOnce(ctx, method, path, body)
	if expired {
		obs.Logger.Warn("filemaker_session_expired", "path", path)
		env, _, err = c.doOnce(ctx, method, path, body)
	}
	return env, err
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte) (*envelope, bool, error) {
	token, err := c.sessionToken(ctx)
	if err != nil {
		return nil, false, err
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, false, &engine.APIError{System: "filemaker", Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, false, &engine.APIError{System: "filemaker", Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode == http.StatusUnauthorized || env.code() == codeInvalidToken {
		c.invalidateToken(token)
		return nil, true, &engine.APIError{
			System: "filemaker", Status: resp.StatusCode, Code: env.code(),
			Message: "session expired", Retryable: true,
		}
	}
	if resp.StatusCode >= 500 {
		return nil, false, &engine.APIError{
			System: "filemaker", Status: resp.StatusCode,
			Message: env.message(), Retryable: true,
		}
	}
	if decodeErr != nil {
		return nil, false, &engine.APIError{
			System: "filemaker", Status: resp.StatusCode,
			Message: "unreadable response: " + decodeErr.Error(),
		}
	}
	return &env, false, nil
}

func (c *Client) layoutPath(layout, suffix string) string {
	return fmt.Sprintf("/fmi/data/v1/databases/%s/layouts/%s%s",
		url.PathEscape(c.database), url.PathEscape(layout), suffix)
}

// FetchAll returns every sellable product, paginating through the Data
// API's 100-record page limit. Offsets are 1-based.
func (c *Client) FetchAll(ctx context.Context) ([]model.StockItem, error) {
	obs.Logger.Info("filemaker_fetch_all_start")

	path := c.layoutPath(stockLayout, "/_find")
	offset := 1
	var items []model.StockItem

	for {
		payload, _ := json.Marshal(map[string]interface{}{
			"query":  []map[string]string{{classField: sellableClass}},
			"limit":  strconv.Itoa(pageSize),
			"offset": strconv.Itoa(offset),
		})

		env, err := c.do(ctx, http.MethodPost, path, payload)
		if err != nil {
			return nil, err
		}
		if env.code() == codeNoRecords {
			break
		}
		if env.code() != codeOK {
			return nil, &engine.APIError{
				System: "filemaker", Code: env.code(),
				Message: "fetching stock: " + env.message(),
			}
		}

		for _, rec := range env.Response.Data {
			items = append(items, itemFromRecord(rec))
		}
		obs.Logger.Debug("filemaker_fetch_page", "offset", offset, "records", len(env.Response.Data))

		if len(env.Response.Data) < pageSize {
			break
		}
		offset += pageSize
	}

	obs.Logger.Info("filemaker_fetch_all_done", "items", len(items))
	return items, nil
}

// FetchOne looks up a single product by SKU using the exact-match operator.
func (c *Client) FetchOne(ctx context.Context, sku string) (model.StockItem, error) {
	rec, err := c.findRecord(ctx, sku)
	if err != nil {
		return model.StockItem{}, err
	}
	return itemFromRecord(rec), nil
}

func (c *Client) findRecord(ctx context.Context, sku string) (record, error) {
	payload, _ := json.Marshal(map[string]interface{}{
		"query": []map[string]string{{skuField: "==" + sku}},
	})

	env, err := c.do(ctx, http.MethodPost, c.layoutPath(stockLayout, "/_find"), payload)
	if err != nil {
		return record{}, err
	}
	if env.code() == codeNoRecords || (env.code() == codeOK && len(env.Response.Data) == 0) {
		return record{}, &engine.NotFoundError{System: "filemaker", SKU: sku}
	}
	if env.code() != codeOK {
		return record{}, &engine.APIError{
			System: "filemaker", Code: env.code(),
			Message: fmt.Sprintf("fetching SKU %s: %s", sku, env.message()),
		}
	}
	return env.Response.Data[0], nil
}

// WriteQuantity sets the stored quantity on the product's record.
func (c *Client) WriteQuantity(ctx context.Context, sku string, quantity int) error {
	rec, err := c.findRecord(ctx, sku)
	if err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"fieldData": map[string]string{quantityField: strconv.Itoa(quantity)},
	})
	path := c.layoutPath(stockLayout, "/records/"+url.PathEscape(rec.RecordID))

	env, err := c.do(ctx, http.MethodPatch, path, payload)
	if err != nil {
		return err
	}
	if env.code() != codeOK {
		return &engine.APIError{
			System: "filemaker", Code: env.code(),
			Message: fmt.Sprintf("writing quantity for SKU %s: %s", sku, env.message()),
		}
	}
	obs.Logger.Debug("filemaker_quantity_written", "sku", sku, "quantity", quantity)
	return nil
}

// AppendMovement records one entry in the movement ledger. Order decrements
// additionally run the recalculation script so derived totals fold the new
// movement in immediately; sync corrections describe a storefront-side
// change, so no recalculation is needed.
func (c *Client) AppendMovement(ctx context.Context, rec model.MovementRecord) error {
	fk, err := strconv.Atoi(rec.SKU)
	if err != nil {
		return &engine.APIError{
			System:  "filemaker",
			Message: fmt.Sprintf("movement for non-numeric SKU %q", rec.SKU),
		}
	}

	// The ledger stores unsigned exit/entry columns, not a signed delta.
	salida, entrada := 0, 0
	if rec.QuantityChange < 0 {
		salida = -rec.QuantityChange
	} else {
		entrada = rec.QuantityChange
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"fieldData": map[string]int{
			"Concepto Cobro_fk": fk,
			"Inv_Cant_Salida":   salida,
			"Inv_Cant_Entrada":  entrada,
		},
	})

	env, err := c.do(ctx, http.MethodPost, c.layoutPath(movementsLayout, "/records"), payload)
	if err != nil {
		return err
	}
	if env.code() != codeOK {
		return &engine.APIError{
			System: "filemaker", Code: env.code(),
			Message: fmt.Sprintf("creating movement for SKU %s: %s", rec.SKU, env.message()),
		}
	}
	obs.Logger.Debug("filemaker_movement_created",
		"sku", rec.SKU, "salida", salida, "entrada", entrada, "type", string(rec.Type))

	if rec.Type != model.MovementOrderDecrement {
		return nil
	}
	return c.runRecalc(ctx, rec.SKU)
}

func (c *Client) runRecalc(ctx context.Context, sku string) error {
	path := c.layoutPath(movementsLayout, "/script/"+url.PathEscape(recalcScript)) +
		"?script.param=" + url.QueryEscape(sku)

	env, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if env.code() != codeOK {
		return &engine.APIError{
			System: "filemaker", Code: env.code(),
			Message: fmt.Sprintf("running %s for SKU %s: %s", recalcScript, sku, env.message()),
		}
	}
	if se := env.Response.ScriptError; se != "" && se != "0" {
		return &engine.APIError{
			System:  "filemaker",
			Message: fmt.Sprintf("%s script error %s for SKU %s", recalcScript, se, sku),
		}
	}
	return nil
}

// Logout deletes the current session server-side. Best-effort: an already
// expired token is not an error worth surfacing at shutdown.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()

	if token == "" {
		return nil
	}

	path := fmt.Sprintf("%s/fmi/data/v1/databases/%s/sessions/%s",
		c.baseURL, url.PathEscape(c.database), url.PathEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	obs.Logger.Info("filemaker_session_closed")
	return nil
}

// itemFromRecord maps one Data API record to the domain snapshot. The
// quantity field can come back as a number, a numeric string, or null.
func itemFromRecord(rec record) model.StockItem {
	fields := rec.FieldData
	qty := asInt(fields[quantityField])
	if qty < 0 {
		qty = 0
	}
	return model.StockItem{
		SKU:      asString(fields[skuField]),
		Quantity: qty,
		Source:   model.SourceFileMaker,
		Metadata: map[string]string{
			"record_id":     rec.RecordID,
			"nombre":        asString(fields[nameField]),
			"clasificacion": asString(fields[classField]),
		},
	}
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asInt(v interface{}) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		if t == "" {
			return 0
		}
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return int(f)
	default:
		return 0
	}
}
