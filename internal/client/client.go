// Package client is the HTTP client of the coinflip API. Mutating calls are
// signed with the caller's key using the X-Coinflip-* headers.
package client

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
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/coinflip/internal/crypto"
	"github.com/alanyoungcy/coinflip/internal/domain"
	"github.com/alanyoungcy/coinflip/internal/server/middleware"
	"github.com/alanyoungcy/coinflip/internal/service"
)

// APIError is a non-2xx response from the API. It unwraps to the domain
// sentinel named by Code when one exists.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("client: HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("client: HTTP %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return domain.ErrorForCode(e.Code)
}

// Client calls the coinflip HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock overrides the clock used for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a Client for the API at baseURL, e.g. "http://localhost:8080".
// signer may be nil for read-only use; signed calls then fail.
func New(baseURL string, signer *crypto.Signer, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		signer:     signer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the game configuration and pool state.
func (c *Client) Config(ctx context.Context) (service.ConfigView, error) {
	var out service.ConfigView
	if err := c.do(ctx, http.MethodGet, "/api/config", nil, false, &out); err != nil {
		return out, fmt.Errorf("client: get config: %w", err)
	}
	return out, nil
}

// Bootstrap creates the configuration with the signer as admin.
func (c *Client) Bootstrap(ctx context.Context, feeRecipient domain.Identity, feeRate uint64) (domain.GlobalConfig, error) {
	body := map[string]any{
		"fee_recipient": feeRecipient,
		"fee_rate":      feeRate,
	}
	var out domain.GlobalConfig
	if err := c.do(ctx, http.MethodPost, "/api/config/bootstrap", body, true, &out); err != nil {
		return out, fmt.Errorf("client: bootstrap: %w", err)
	}
	return out, nil
}

// UpdateConfig replaces the fee recipient and fee rate, and hands over the
// admin role when newAdmin is non-nil.
func (c *Client) UpdateConfig(ctx context.Context, newAdmin *domain.Identity, feeRecipient domain.Identity, feeRate uint64) (domain.GlobalConfig, error) {
	body := map[string]any{
		"fee_recipient": feeRecipient,
		"fee_rate":      feeRate,
	}
	if newAdmin != nil {
		body["new_admin"] = *newAdmin
	}
	var out domain.GlobalConfig
	if err := c.do(ctx, http.MethodPut, "/api/config", body, true, &out); err != nil {
		return out, fmt.Errorf("client: update config: %w", err)
	}
	return out, nil
}

// Register creates a player account owned by the signer.
func (c *Client) Register(ctx context.Context) (domain.PlayerAccount, error) {
	var out domain.PlayerAccount
	if err := c.do(ctx, http.MethodPost, "/api/players", nil, true, &out); err != nil {
		return out, fmt.Errorf("client: register: %w", err)
	}
	return out, nil
}

// Players lists the accounts owned by owner.
func (c *Client) Players(ctx context.Context, owner domain.Identity) ([]domain.PlayerAccount, error) {
	var out struct {
		Players []domain.PlayerAccount `json:"players"`
	}
	path := "/api/players?owner=" + url.QueryEscape(owner.String())
	if err := c.do(ctx, http.MethodGet, path, nil, false, &out); err != nil {
		return nil, fmt.Errorf("client: list players: %w", err)
	}
	return out.Players, nil
}

// Player returns a player account.
func (c *Client) Player(ctx context.Context, id string) (domain.PlayerAccount, error) {
	var out domain.PlayerAccount
	if err := c.do(ctx, http.MethodGet, "/api/players/"+url.PathEscape(id), nil, false, &out); err != nil {
		return out, fmt.Errorf("client: get player %s: %w", id, err)
	}
	return out, nil
}

// Rounds returns a page of a player's rounds, newest first.
func (c *Client) Rounds(ctx context.Context, playerID string, limit, offset int) ([]domain.Round, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/players/" + url.PathEscape(playerID) + "/rounds"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Rounds []domain.Round `json:"rounds"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, false, &out); err != nil {
		return nil, fmt.Errorf("client: list rounds of %s: %w", playerID, err)
	}
	return out.Rounds, nil
}

// PlayResult is the outcome of a played round.
type PlayResult struct {
	Account domain.PlayerAccount `json:"account"`
	Round   domain.Round         `json:"round"`
}

// Play wagers stake on prediction for the player account.
func (c *Client) Play(ctx context.Context, playerID string, prediction domain.Prediction, stake uint64, feeRecipient domain.Identity) (PlayResult, error) {
	body := map[string]any{
		"prediction":    prediction,
		"stake":         stake,
		"fee_recipient": feeRecipient,
	}
	var out PlayResult
	path := "/api/players/" + url.PathEscape(playerID) + "/rounds"
	if err := c.do(ctx, http.MethodPost, path, body, true, &out); err != nil {
		return out, fmt.Errorf("client: play %s: %w", playerID, err)
	}
	return out, nil
}

// ClaimResult is the outcome of a claim.
type ClaimResult struct {
	Account domain.PlayerAccount `json:"account"`
	Paid    uint64               `json:"paid"`
	RoundID string               `json:"round_id"`
}

// Claim pays out the player's pending reward.
func (c *Client) Claim(ctx context.Context, playerID string) (ClaimResult, error) {
	var out ClaimResult
	path := "/api/players/" + url.PathEscape(playerID) + "/claim"
	if err := c.do(ctx, http.MethodPost, path, nil, true, &out); err != nil {
		return out, fmt.Errorf("client: claim %s: %w", playerID, err)
	}
	return out, nil
}

// Balance is a ledger balance as reported by the API.
type Balance struct {
	Identity domain.Identity `json:"identity"`
	Balance  uint64          `json:"balance"`
	Display  string          `json:"display"`
}

// Pool returns the pool identity and balance.
func (c *Client) Pool(ctx context.Context) (Balance, error) {
	var out Balance
	if err := c.do(ctx, http.MethodGet, "/api/pool", nil, false, &out); err != nil {
		return out, fmt.Errorf("client: get pool: %w", err)
	}
	return out, nil
}

// Balance returns the ledger balance of id.
func (c *Client) Balance(ctx context.Context, id domain.Identity) (Balance, error) {
	var out Balance
	if err := c.do(ctx, http.MethodGet, "/api/balances/"+id.String(), nil, false, &out); err != nil {
		return out, fmt.Errorf("client: get balance %s: %w", id, err)
	}
	return out, nil
}

// Withdraw moves amount from the pool to the signer, who must be the admin
// or the fee recipient.
func (c *Client) Withdraw(ctx context.Context, amount uint64) (domain.Receipt, error) {
	var out domain.Receipt
	body := map[string]any{"amount": amount}
	if err := c.do(ctx, http.MethodPost, "/api/pool/withdraw", body, true, &out); err != nil {
		return out, fmt.Errorf("client: withdraw: %w", err)
	}
	return out, nil
}

// Status returns the server status document.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, false, &out); err != nil {
		return nil, fmt.Errorf("client: status: %w", err)
	}
	return out, nil
}

// do sends a JSON request and decodes a JSON response into out. Signed
// requests carry the signature headers over the exact body bytes.
func (c *Client) do(ctx context.Context, method, path string, body any, signed bool, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if signed {
		if c.signer == nil {
			return fmt.Errorf("%s %s requires a signing key", method, path)
		}
		ts := c.now().Unix()
		nonce := uuid.NewString()
		sig, err := c.signer.SignRequest(method, req.URL.Path, ts, nonce, payload)
		if err != nil {
			return err
		}
		req.Header.Set(middleware.HeaderNonce, nonce)
		req.Header.Set(middleware.HeaderAddress, c.signer.Identity().String())
		req.Header.Set(middleware.HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(middleware.HeaderSignature, sig)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var eb struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(respBody, &eb) == nil && eb.Error != "" {
			apiErr.Code = eb.Code
			apiErr.Message = eb.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
