package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Environment hosts for the banking-data API.
var environmentHosts = map[string]string{
	"sandbox":     "https://sandbox.plaid.com",
	"development": "https://development.plaid.com",
	"production":  "https://production.plaid.com",
}

// HTTPClient talks to the provider's REST API. Every call is a JSON POST
// carrying the client credentials in the body.
type HTTPClient struct {
	httpClient *http.Client
	host       string
	clientID   string
	secret     string
}

// NewHTTPClient builds a client for the named environment (sandbox,
// development or production). A full URL may be passed instead of an
// environment name, which is how tests point the client at a local server.
func NewHTTPClient(env, clientID, secret string) (*HTTPClient, error) {
	host, ok := environmentHosts[env]
	if !ok {
		if len(env) > 4 && env[:4] == "http" {
			host = env
		} else {
			return nil, fmt.Errorf("unknown provider environment %q", env)
		}
	}
	if clientID == "" || secret == "" {
		return nil, fmt.Errorf("missing provider client credentials")
	}
	return &HTTPClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		host:       host,
		clientID:   clientID,
		secret:     secret,
	}, nil
}

const transactionsPageSize = 100

type transactionsGetRequest struct {
	ClientID    string             `json:"client_id"`
	Secret      string             `json:"secret"`
	AccessToken string             `json:"access_token"`
	StartDate   string             `json:"start_date"`
	EndDate     string             `json:"end_date"`
	Options     transactionsGetOpt `json:"options"`
}

type transactionsGetOpt struct {
	Offset                        int  `json:"offset"`
	Count                         int  `json:"count"`
	IncludePersonalFinanceCategory bool `json:"include_personal_finance_category"`
}

type transactionsGetResponse struct {
	Transactions      []RawTransaction `json:"transactions"`
	TotalTransactions int              `json:"total_transactions"`
}

// FetchTransactions implements Client.
func (c *HTTPClient) FetchTransactions(ctx context.Context, token string, r DateRange, offset int) (TransactionsPage, error) {
	req := transactionsGetRequest{
		ClientID:    c.clientID,
		Secret:      c.secret,
		AccessToken: token,
		StartDate:   r.Start.String(),
		EndDate:     r.End.String(),
		Options: transactionsGetOpt{
			Offset:                         offset,
			Count:                          transactionsPageSize,
			IncludePersonalFinanceCategory: true,
		},
	}

	var resp transactionsGetResponse
	if err := c.post(ctx, "/transactions/get", req, &resp); err != nil {
		return TransactionsPage{}, err
	}
	return TransactionsPage{Transactions: resp.Transactions, Total: resp.TotalTransactions}, nil
}

type balancesGetRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	AccessToken string `json:"access_token"`
}

type balancesGetResponse struct {
	Accounts []RawAccount `json:"accounts"`
}

// FetchBalances implements Client.
func (c *HTTPClient) FetchBalances(ctx context.Context, token string) ([]RawAccount, error) {
	req := balancesGetRequest{ClientID: c.clientID, Secret: c.secret, AccessToken: token}

	var resp balancesGetResponse
	if err := c.post(ctx, "/accounts/balance/get", req, &resp); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

type exchangeRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	PublicToken string `json:"public_token"`
}

type exchangeResponse struct {
	AccessToken string `json:"access_token"`
}

// ExchangePublicToken implements Client.
func (c *HTTPClient) ExchangePublicToken(ctx context.Context, publicToken string) (string, error) {
	req := exchangeRequest{ClientID: c.clientID, Secret: c.secret, PublicToken: publicToken}

	var resp exchangeResponse
	if err := c.post(ctx, "/item/public_token/exchange", req, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("exchange response carried no access token")
	}
	return resp.AccessToken, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Code == "" {
			return fmt.Errorf("%s: unexpected status %d: %s", path, resp.StatusCode, raw)
		}
		return apiErr
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
