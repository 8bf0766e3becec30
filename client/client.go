// Package client speaks to a ledger node: cursor-paginated, tag-filtered
// transaction-id queries and per-transaction body fetches.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/openindexlabs/ledgerdex"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	client    *http.Client
	endpoint  string
	userAgent string
}

func New(endpoint string) *Client {
	httpClient := http.Client{
		Timeout: defaultTimeout,
	}

	c := &Client{
		client:    &httpClient,
		endpoint:  endpoint,
		userAgent: "ledgerdex",
	}
	httpClient.Transport = c
	return c
}

func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)
	return http.DefaultTransport.RoundTrip(req)
}

// TxQuery filters a transaction-id listing. Tags are matched exactly on the
// ledger side; MinBlock is an inclusive lower bound.
type TxQuery struct {
	Tags     []ledgerdex.Tag `json:"tags"`
	MinBlock uint64          `json:"minBlock"`
	Cursor   string          `json:"cursor,omitempty"`
	Limit    int             `json:"limit"`
}

// TxPage is one page of matching transaction ids, oldest first.
type TxPage struct {
	IDs     []string `json:"ids"`
	Cursor  string   `json:"cursor"`
	HasMore bool     `json:"hasMore"`
}

// QueryTransactionIDs fetches one page of transaction ids matching the query.
func (c *Client) QueryTransactionIDs(ctx context.Context, q TxQuery) (TxPage, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return TxPage{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/query", bytes.NewReader(body))
	if err != nil {
		return TxPage{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return TxPage{}, fmt.Errorf("ledger query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return TxPage{}, fmt.Errorf("ledger query: status %d", resp.StatusCode)
	}

	var page TxPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return TxPage{}, fmt.Errorf("ledger query: decoding response: %w", err)
	}
	return page, nil
}

// txEnvelope keeps the payload raw so signatures can be verified over the
// exact bytes the signer saw.
type txEnvelope struct {
	ID              string          `json:"id"`
	Tags            []ledgerdex.Tag `json:"tags"`
	Payload         json.RawMessage `json:"payload"`
	SignerAddress   string          `json:"signerAddress"`
	BlockHeight     uint64          `json:"blockHeight"`
	ProtocolVersion string          `json:"protocolVersion"`
	Signature       string          `json:"signature"`
}

// GetTransaction fetches a full transaction body by id.
func (c *Client) GetTransaction(ctx context.Context, txid string) (ledgerdex.Transaction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/tx/"+txid, nil)
	if err != nil {
		return ledgerdex.Transaction{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return ledgerdex.Transaction{}, fmt.Errorf("transaction fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ledgerdex.Transaction{}, fmt.Errorf("transaction %s not found", txid)
	}
	if resp.StatusCode != http.StatusOK {
		return ledgerdex.Transaction{}, fmt.Errorf("transaction fetch: status %d", resp.StatusCode)
	}

	var env txEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return ledgerdex.Transaction{}, fmt.Errorf("transaction fetch: decoding response: %w", err)
	}

	tx := ledgerdex.Transaction{
		ID:              env.ID,
		Tags:            env.Tags,
		RawPayload:      []byte(env.Payload),
		SignerAddress:   env.SignerAddress,
		BlockHeight:     env.BlockHeight,
		ProtocolVersion: env.ProtocolVersion,
		Signature:       env.Signature,
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &tx.Payload); err != nil {
			return ledgerdex.Transaction{}, fmt.Errorf("transaction %s: malformed payload: %w", txid, err)
		}
	}
	return tx, nil
}
