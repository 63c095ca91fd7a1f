// Package agentvault is a typed HTTP client for the AgentVault REST API.
package agentvault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Transfers wait for simulation and submission, so it is
// longer than a plain read would need.
const DefaultHTTPTimeout = 30 * time.Second

// Client wraps the HTTP interactions with the AgentVault API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// Agent mirrors the redacted agent record returned by the API.
type Agent struct {
	ID         string `json:"id"`
	Chain      string `json:"chain"`
	PublicKey  string `json:"public_key,omitempty"`
	SpendLimit string `json:"spend_limit"`
	HasWallet  bool   `json:"has_wallet"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

// CreateAgentRequest is the payload for CreateAgent. Chain may be empty to use
// the daemon's default network.
type CreateAgentRequest struct {
	SpendLimit string `json:"spend_limit"`
	Chain      string `json:"chain,omitempty"`
}

// Wallet describes the outcome of IssueWallet.
type Wallet struct {
	AgentID           string `json:"agent_id"`
	Chain             string `json:"chain"`
	PublicKey         string `json:"public_key"`
	Overwritten       bool   `json:"overwritten"`
	PreviousPublicKey string `json:"previous_public_key,omitempty"`
}

// Balance is a wallet balance in base units and display form.
type Balance struct {
	AgentID   string   `json:"agent_id"`
	Chain     string   `json:"chain"`
	Address   string   `json:"address"`
	BaseUnits *big.Int `json:"base_units"`
	Display   string   `json:"display"`
	Symbol    string   `json:"symbol"`
}

// Transfer is a submitted transfer.
type Transfer struct {
	Signature       string   `json:"signature"`
	Amount          string   `json:"amount"`
	AmountBaseUnits *big.Int `json:"amount_base_units"`
	Recipient       string   `json:"recipient"`
	Chain           string   `json:"chain"`
}

// APIError represents an error envelope returned by the daemon.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("agentvault api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agentvault api error (%d): %s", e.StatusCode, e.Message)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// NewClient instantiates a client for the AgentVault API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the stored bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// CreateAgent registers a new agent with the given spend limit.
func (c *Client) CreateAgent(ctx context.Context, req CreateAgentRequest) (Agent, error) {
	var out Agent
	if err := c.post(ctx, "/api/v1/agents", req, &out); err != nil {
		return Agent{}, err
	}
	return out, nil
}

// ListAgents returns the most recently created agents. limit <= 0 uses the
// server default.
func (c *Client) ListAgents(ctx context.Context, limit int) ([]Agent, error) {
	endpoint := "/api/v1/agents"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Agents []Agent `json:"agents"`
	}
	if err := c.get(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

// GetAgent fetches a single agent.
func (c *Client) GetAgent(ctx context.Context, agentID string) (Agent, error) {
	var out Agent
	if err := c.get(ctx, agentPath(agentID, ""), &out); err != nil {
		return Agent{}, err
	}
	return out, nil
}

// IssueWallet issues a wallet. Replacing an existing wallet requires
// confirmOverwrite; the previous address is orphaned.
func (c *Client) IssueWallet(ctx context.Context, agentID string, confirmOverwrite bool) (Wallet, error) {
	var out Wallet
	body := struct {
		ConfirmOverwrite bool `json:"confirm_overwrite"`
	}{confirmOverwrite}
	if err := c.post(ctx, agentPath(agentID, "wallet"), body, &out); err != nil {
		return Wallet{}, err
	}
	return out, nil
}

// Address returns the agent's wallet address.
func (c *Client) Address(ctx context.Context, agentID string) (string, error) {
	var out struct {
		Address string `json:"address"`
	}
	if err := c.get(ctx, agentPath(agentID, "address"), &out); err != nil {
		return "", err
	}
	return out.Address, nil
}

// Balance returns the agent's native balance.
func (c *Client) Balance(ctx context.Context, agentID string) (Balance, error) {
	var out Balance
	if err := c.get(ctx, agentPath(agentID, "balance"), &out); err != nil {
		return Balance{}, err
	}
	return out, nil
}

// Transfer sends amount (display units) to recipient.
func (c *Client) Transfer(ctx context.Context, agentID, recipient, amount string) (Transfer, error) {
	var out Transfer
	body := struct {
		Recipient string `json:"recipient"`
		Amount    string `json:"amount"`
	}{recipient, amount}
	if err := c.post(ctx, agentPath(agentID, "transfers"), body, &out); err != nil {
		return Transfer{}, err
	}
	return out, nil
}

func agentPath(agentID, sub string) string {
	return path.Join("/api/v1/agents", url.PathEscape(agentID), sub)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}
	rel.Path = path.Join(c.baseURL.Path, rel.Path)
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
