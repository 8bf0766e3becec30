package usecase

import (
	"context"
	"encoding/hex"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/openindexlabs/ledgerdex"
	"github.com/openindexlabs/ledgerdex/internal/domain"
)

// Scheduler drives the background polling loop. One cycle walks
// Idle -> Scanning -> Decoding -> Indexing and back to Idle; state is
// observable for the progress surface.
type Scheduler struct {
	records       RecordStore
	templates     TemplateStore
	creators      CreatorStore
	organizations OrganizationStore
	ledger        LedgerSource
	indexer       *Indexer
	cache         *RecordsCache

	interval      time.Duration
	minVersion    string
	refreshEveryN int

	state atomic.Int32
	cycle atomic.Uint64

	mu       sync.Mutex
	lastErr  error
	lastSync time.Time
}

func NewScheduler(
	records RecordStore,
	templates TemplateStore,
	creators CreatorStore,
	organizations OrganizationStore,
	ledger LedgerSource,
	indexer *Indexer,
	cache *RecordsCache,
	interval time.Duration,
	minVersion string,
	refreshEveryN int,
) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if refreshEveryN <= 0 {
		refreshEveryN = 1
	}
	return &Scheduler{
		records:       records,
		templates:     templates,
		creators:      creators,
		organizations: organizations,
		ledger:        ledger,
		indexer:       indexer,
		cache:         cache,
		interval:      interval,
		minVersion:    minVersion,
		refreshEveryN: refreshEveryN,
	}
}

// State returns the scheduler's current phase.
func (s *Scheduler) State() domain.SyncState {
	return domain.SyncState(s.state.Load())
}

// Run blocks until ctx is done, executing one sync cycle per interval. The
// first cycle starts immediately.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.RunCycle(ctx); err != nil {
			slog.Error("sync cycle aborted", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunCycle executes one full synchronization pass. Per-transaction failures
// are logged and skipped; only store connectivity aborts the cycle.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	defer s.state.Store(int32(domain.SyncIdle))
	cycle := s.cycle.Add(1)

	s.state.Store(int32(domain.SyncScanning))
	watermark, err := s.Watermark(ctx)
	if err != nil {
		s.setErr(err)
		return err
	}

	txids, err := s.ledger.FetchSince(ctx, watermark)
	if err != nil {
		// a failed scan is transient; the watermark picks it up next cycle
		slog.Warn("ledger scan failed", "watermark", watermark, "error", err)
		s.setErr(err)
		return nil
	}

	indexed := 0
	for _, txid := range txids {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.state.Store(int32(domain.SyncDecoding))
		tx, err := s.ledger.GetTransaction(ctx, txid)
		if err != nil {
			slog.Warn("transaction fetch failed, skipping", "tx_id", txid, "error", err)
			continue
		}

		if s.minVersion != "" && !ledgerdex.VersionAtLeast(tx.ProtocolVersion, s.minVersion) {
			slog.Debug("transaction below protocol floor, skipping",
				"tx_id", txid, "version", tx.ProtocolVersion)
			continue
		}
		if err := s.verifySignature(tx); err != nil {
			slog.Warn("signature verification failed, skipping", "tx_id", txid, "error", err)
			continue
		}

		s.state.Store(int32(domain.SyncIndexing))
		if err := s.indexer.Index(ctx, tx); err != nil {
			if errors.Is(err, domain.ErrStoreUnavailable) {
				s.setErr(err)
				return err
			}
			slog.Warn("indexing failed, skipping", "tx_id", txid, "error", err)
			continue
		}
		indexed++
	}

	if s.cache != nil && cycle%uint64(s.refreshEveryN) == 0 {
		if _, err := s.cache.Refresh(ctx); err != nil {
			slog.Warn("cache refresh failed", "error", err)
		}
	}

	s.mu.Lock()
	s.lastErr = nil
	s.lastSync = time.Now()
	s.mu.Unlock()

	if indexed > 0 {
		slog.Info("sync cycle complete",
			"cycle", cycle, "watermark", watermark, "candidates", len(txids), "indexed", indexed)
	}
	return nil
}

// Watermark recomputes the highest mirrored block from store aggregates.
// This is deliberately not an in-memory cursor: restarts and skipped pages
// are healed by re-reading what the store actually holds.
func (s *Scheduler) Watermark(ctx context.Context) (uint64, error) {
	var watermark uint64
	for _, probe := range []func(context.Context) (uint64, error){
		s.records.MaxBlockHeight,
		s.templates.MaxBlockHeight,
		s.creators.MaxBlockHeight,
		s.organizations.MaxBlockHeight,
	} {
		h, err := probe(ctx)
		if err != nil {
			return 0, domain.StoreUnavailableError{Cause: err}
		}
		if h > watermark {
			watermark = h
		}
	}
	return watermark, nil
}

// Progress reports the mirror's confirmation ratio as a percentage. The
// numeric edge cases of an empty store (NaN, -Inf, negative zero) all
// normalize to zero.
func (s *Scheduler) Progress(ctx context.Context) float64 {
	confirmed, pending, err := s.records.Counts(ctx)
	if err != nil {
		slog.Warn("progress aggregate read failed", "error", err)
		return 0
	}
	return NormalizeProgress(100 * float64(confirmed) / float64(confirmed+pending))
}

// NormalizeProgress folds NaN, -Inf and negative zero into plain zero and
// clamps to [0,100].
func NormalizeProgress(p float64) float64 {
	if math.IsNaN(p) || math.IsInf(p, -1) || p <= 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func (s *Scheduler) verifySignature(tx ledgerdex.Transaction) error {
	if tx.Signature == "" {
		return errors.New("unsigned transaction")
	}
	sig, err := hex.DecodeString(tx.Signature)
	if err != nil {
		return errors.Wrap(err, "malformed signature")
	}
	return ledgerdex.VerifySignature(tx.RawPayload, sig, tx.SignerAddress)
}

func (s *Scheduler) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// LastError returns the most recent cycle error, nil after a clean cycle.
func (s *Scheduler) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// LastSync returns when the last clean cycle finished.
func (s *Scheduler) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}
