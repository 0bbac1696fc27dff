package onboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the Sonic onboarding REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Message is one entry in a conversation transcript.
type Message struct {
	Role       string `json:"role"`
	Content    string `json:"content,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Conversation is a chat thread between a user and the assistant.
type Conversation struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	Messages []Message `json:"messages"`
}

// UnsignedTransaction is an EVM transaction prepared for user signing.
type UnsignedTransaction struct {
	ChainID string `json:"chainId,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	Value   string `json:"value,omitempty"`
	Data    string `json:"data,omitempty"`
	Gas     string `json:"gas,omitempty"`
}

// TransactionDetails pairs an unsigned transaction with a human readable
// description of what signing it will do.
type TransactionDetails struct {
	Transaction *UnsignedTransaction `json:"transaction"`
	Description string               `json:"description"`
}

// TransactionRequest is a multi-step flow tracked by the backend. While the
// state is PROCESSING the embedded transaction, if any, awaits a signature.
type TransactionRequest struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversation_id"`
	ChainID        int64               `json:"chain_id"`
	UserAddress    string              `json:"user_address"`
	Flow           string              `json:"flow"`
	Step           int                 `json:"step"`
	State          string              `json:"state"`
	Transaction    *TransactionDetails `json:"transaction_details,omitempty"`
	FailedReason   string              `json:"failed_reason,omitempty"`
	SignedTxHash   string              `json:"signed_tx_hash,omitempty"`
}

// Reply is the assistant's answer to a message or a signed submission. When
// Transaction is set the flow is paused until the user signs and submits it.
type Reply struct {
	Message     string              `json:"message,omitempty"`
	Transaction *TransactionDetails `json:"transaction,omitempty"`
	RequestID   string              `json:"request_id,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("onboard api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("onboard api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the onboarding API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// CreateThread starts a new conversation seeded with the assistant greeting.
func (c *Client) CreateThread(ctx context.Context, privyUserID string) (Conversation, error) {
	query := url.Values{"privy_user_id": {privyUserID}}
	var conversation Conversation
	if err := c.post(ctx, "/api/v1/threads", query, nil, &conversation); err != nil {
		return Conversation{}, err
	}
	return conversation, nil
}

// SendMessage posts a user message and returns the assistant reply. A reply
// carrying a Transaction means the user has to sign it and call
// SubmitTransaction before the flow continues.
func (c *Client) SendMessage(ctx context.Context, conversationID, privyUserID, message string) (Reply, error) {
	query := url.Values{"privy_user_id": {privyUserID}}
	payload := map[string]string{"message": message}
	var reply Reply
	endpoint := fmt.Sprintf("/api/v1/conversations/%s/messages", url.PathEscape(conversationID))
	if err := c.post(ctx, endpoint, query, payload, &reply); err != nil {
		return Reply{}, err
	}
	return reply, nil
}

// PendingTransaction fetches the conversation's in-flight transaction request.
func (c *Client) PendingTransaction(ctx context.Context, conversationID string) (TransactionRequest, error) {
	var request TransactionRequest
	endpoint := fmt.Sprintf("/api/v1/conversations/%s/pending_transaction", url.PathEscape(conversationID))
	if err := c.get(ctx, endpoint, nil, &request); err != nil {
		return TransactionRequest{}, err
	}
	return request, nil
}

// SubmitTransaction reports the hash of a signed and broadcast transaction,
// resuming the paused flow.
func (c *Client) SubmitTransaction(ctx context.Context, conversationID, privyUserID, signedTxHash string) (Reply, error) {
	query := url.Values{"privy_user_id": {privyUserID}}
	payload := map[string]string{"signed_tx_hash": signedTxHash}
	var reply Reply
	endpoint := fmt.Sprintf("/api/v1/conversations/%s/submit_transaction", url.PathEscape(conversationID))
	if err := c.post(ctx, endpoint, query, payload, &reply); err != nil {
		return Reply{}, err
	}
	return reply, nil
}

// Holding is one token position on Sonic chain.
type Holding struct {
	TokenAddress string   `json:"token_address"`
	Balance      float64  `json:"balance"`
	Name         string   `json:"name"`
	Symbol       string   `json:"symbol"`
	Decimals     int      `json:"decimals"`
	LogoURL      string   `json:"logo_url,omitempty"`
	Price        *float64 `json:"price,omitempty"`
	USDValue     *float64 `json:"usd_value,omitempty"`
}

// Holdings is the user's aggregated Sonic portfolio.
type Holdings struct {
	Holdings      []Holding `json:"holdings"`
	TotalUSDValue float64   `json:"total_usd_value"`
}

// GetHoldings returns the user's token holdings on Sonic chain.
func (c *Client) GetHoldings(ctx context.Context, privyUserID string) (Holdings, error) {
	query := url.Values{"privy_user_id": {privyUserID}}
	var holdings Holdings
	if err := c.get(ctx, "/api/v1/holdings", query, &holdings); err != nil {
		return Holdings{}, err
	}
	return holdings, nil
}

func (c *Client) post(ctx context.Context, endpoint string, query url.Values, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, query, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
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
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
