package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/openindexlabs/ledgerdex"
	"github.com/openindexlabs/ledgerdex/client"
	"github.com/openindexlabs/ledgerdex/retry"
)

// LedgerGateway wraps the ledger client with the scanner semantics: tag
// filtering, cursor pagination with per-page retry-and-skip, a per-cycle
// transaction cap, and caching of immutable transaction bodies.
type LedgerGateway struct {
	client      *client.Client
	strategy    retry.Strategy
	pageCache   *gocache.Cache
	bodies      *memcache.Client
	indexMethod string
	minVersion  string
	pageSize    int
	maxPerCycle int
}

type LedgerOptions struct {
	IndexMethod   string
	MinVersion    string
	PageSize      int
	PageRetries   int
	MaxPerCycle   int
	MemcachedAddr string
}

func NewLedgerGateway(cl *client.Client, opts LedgerOptions) *LedgerGateway {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.MaxPerCycle <= 0 {
		opts.MaxPerCycle = 500
	}
	var bodies *memcache.Client
	if opts.MemcachedAddr != "" {
		bodies = memcache.New(opts.MemcachedAddr)
	}
	return &LedgerGateway{
		client:      cl,
		strategy:    retry.NewBackoff(opts.PageRetries, time.Second, 30*time.Second),
		pageCache:   gocache.New(time.Minute, 5*time.Minute),
		bodies:      bodies,
		indexMethod: opts.IndexMethod,
		minVersion:  opts.MinVersion,
		pageSize:    opts.PageSize,
		maxPerCycle: opts.MaxPerCycle,
	}
}

// FetchSince lists transaction ids at or above minBlock, oldest first. Each
// page is retried a fixed number of times and then skipped; the scan never
// aborts on a failed page. The result is capped at the per-cycle ceiling;
// the remainder surfaces next cycle because the caller recomputes its
// watermark from the store, not from our cursor.
func (g *LedgerGateway) FetchSince(ctx context.Context, minBlock uint64) ([]string, error) {
	var ids []string
	cursor := ""

	for {
		query := client.TxQuery{
			Tags: []ledgerdex.Tag{
				{Name: ledgerdex.TagIndexMethod, Value: g.indexMethod},
				{Name: ledgerdex.TagProtocolVersion, Value: g.minVersion},
			},
			MinBlock: minBlock,
			Cursor:   cursor,
			Limit:    g.pageSize,
		}

		page, err := g.fetchPage(ctx, query)
		if err != nil {
			slog.Warn("ledger page skipped after retries",
				"cursor", cursor,
				"min_block", minBlock,
				"error", err,
			)
			break
		}

		ids = append(ids, page.IDs...)

		if len(ids) >= g.maxPerCycle {
			ids = ids[:g.maxPerCycle]
			slog.Info("per-cycle transaction cap reached", "cap", g.maxPerCycle)
			break
		}
		if !page.HasMore || page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}

	return ids, nil
}

func (g *LedgerGateway) fetchPage(ctx context.Context, q client.TxQuery) (client.TxPage, error) {
	key := pageKey(q)
	if cached, found := g.pageCache.Get(key); found {
		return cached.(client.TxPage), nil
	}

	var page client.TxPage
	err := g.strategy.Execute(ctx, func() error {
		var err error
		page, err = g.client.QueryTransactionIDs(ctx, q)
		return err
	})
	if err != nil {
		return client.TxPage{}, err
	}

	g.pageCache.Set(key, page, gocache.DefaultExpiration)
	return page, nil
}

// cachedTx carries the exact raw payload bytes alongside the parsed
// transaction so cache-restored bodies still verify against their signature.
type cachedTx struct {
	Tx  ledgerdex.Transaction `json:"tx"`
	Raw []byte                `json:"raw"`
}

// GetTransaction fetches one full transaction body, consulting memcached
// first. Bodies are immutable, so cached entries never go stale.
func (g *LedgerGateway) GetTransaction(ctx context.Context, txid string) (ledgerdex.Transaction, error) {
	if g.bodies != nil {
		if item, err := g.bodies.Get("tx:" + txid); err == nil {
			var entry cachedTx
			if err := json.Unmarshal(item.Value, &entry); err == nil {
				entry.Tx.RawPayload = entry.Raw
				return entry.Tx, nil
			}
		}
	}

	var tx ledgerdex.Transaction
	err := g.strategy.Execute(ctx, func() error {
		var err error
		tx, err = g.client.GetTransaction(ctx, txid)
		return err
	})
	if err != nil {
		return ledgerdex.Transaction{}, errors.Wrapf(err, "fetching transaction %s", txid)
	}

	if g.bodies != nil {
		if blob, err := json.Marshal(cachedTx{Tx: tx, Raw: tx.RawPayload}); err == nil {
			// cache errors are non-fatal; the ledger remains authoritative
			_ = g.bodies.Set(&memcache.Item{Key: "tx:" + txid, Value: blob})
		}
	}
	return tx, nil
}

func pageKey(q client.TxQuery) string {
	b, _ := json.Marshal(q)
	return string(b)
}
