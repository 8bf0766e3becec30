package usecase

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/openindexlabs/ledgerdex"
	"github.com/openindexlabs/ledgerdex/internal/domain"
)

const testPrivKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func signedRecordTx(t *testing.T, txid string, height uint64) ledgerdex.Transaction {
	t.Helper()

	addr, err := ledgerdex.PrivKeyToAddr(testPrivKey, ledgerdex.AddressPrefix)
	if err != nil {
		t.Fatal(err)
	}

	raw, _ := json.Marshal([]map[string]any{{
		"template": "tplBasic",
		"values":   []any{"Signed doc", "body", float64(0), float64(1), []any{"signed"}},
	}})
	sig, err := ledgerdex.SignBytes(raw, testPrivKey)
	if err != nil {
		t.Fatal(err)
	}

	return ledgerdex.Transaction{
		ID: txid,
		Tags: []ledgerdex.Tag{
			{Name: ledgerdex.TagRecordType, Value: "document"},
			{Name: ledgerdex.TagProtocolVersion, Value: "0.8.1"},
		},
		Payload: []ledgerdex.Tuple{
			{Template: "tplBasic", Values: []any{"Signed doc", "body", float64(0), float64(1), []any{"signed"}}},
		},
		RawPayload:      raw,
		SignerAddress:   addr,
		BlockHeight:     height,
		ProtocolVersion: "0.8.1",
		Signature:       hex.EncodeToString(sig),
	}
}

func newScheduler(f *indexerFixture, ledger LedgerSource, cache *RecordsCache) *Scheduler {
	return NewScheduler(
		f.records, f.templates, f.creators, f.orgs,
		ledger, f.indexer, cache,
		time.Minute, "0.8.0", 1,
	)
}

func TestRunCycleIndexesSignedTransactions(t *testing.T) {
	ctx := context.Background()
	f := newIndexerFixture(t, InclusionPolicy{Mode: domain.IncludeAll})

	good := signedRecordTx(t, "tx1", 10)
	f.registerCreator(t, "signer", good.SignerAddress)
	unsigned := recordTx("tx2", "document", "ldx1alice")
	stale := signedRecordTx(t, "tx3", 11)
	stale.ProtocolVersion = "0.7.0"

	ledger := &memLedger{txs: map[string]ledgerdex.Transaction{
		"tx1": good, "tx2": unsigned, "tx3": stale,
	}}

	sched := newScheduler(f, ledger, nil)
	if err := sched.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}

	recs, _ := f.records.List(ctx)
	if len(recs) != 1 {
		t.Fatalf("expected only the valid signed tx indexed, got %d records", len(recs))
	}
	if recs[0].DID != ledgerdex.DIDFromTxID("tx1") {
		t.Errorf("indexed: %s", recs[0].DID)
	}
	if sched.State() != domain.SyncIdle {
		t.Errorf("state after cycle: %s", sched.State())
	}
	if sched.LastError() != nil {
		t.Errorf("last error: %v", sched.LastError())
	}
}

func TestTamperedSignatureSkipped(t *testing.T) {
	ctx := context.Background()
	f := newIndexerFixture(t, InclusionPolicy{Mode: domain.IncludeAll})

	tx := signedRecordTx(t, "tx1", 10)
	tx.RawPayload = append([]byte{}, tx.RawPayload...)
	tx.RawPayload[0] ^= 0xff

	ledger := &memLedger{txs: map[string]ledgerdex.Transaction{"tx1": tx}}
	sched := newScheduler(f, ledger, nil)
	if err := sched.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	if recs, _ := f.records.List(ctx); len(recs) != 0 {
		t.Error("tampered transaction must not index")
	}
}

func TestWatermarkIsMaxAcrossCollections(t *testing.T) {
	ctx := context.Background()
	f := newIndexerFixture(t, InclusionPolicy{Mode: domain.IncludeAll})

	f.records.records["did:ldx:a"] = domain.Record{
		DID: "did:ldx:a", BlockHeight: 120, Status: ledgerdex.StatusOriginal,
	}
	f.records.records["did:ldx:b"] = domain.Record{
		DID: "did:ldx:b", BlockHeight: 300, Status: ledgerdex.StatusPending,
	}

	sched := newScheduler(f, &memLedger{}, nil)
	w, err := sched.Watermark(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// pending records do not count as mirrored
	if w != 120 {
		t.Errorf("watermark: %d", w)
	}
}

func TestUnknownCreatorSkippedInCycle(t *testing.T) {
	ctx := context.Background()
	f := newIndexerFixture(t, InclusionPolicy{Mode: domain.IncludeAll})

	// validly signed, but the signer never registered
	ledger := &memLedger{txs: map[string]ledgerdex.Transaction{
		"tx1": signedRecordTx(t, "tx1", 10),
	}}

	sched := newScheduler(f, ledger, nil)
	if err := sched.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	if recs, _ := f.records.List(ctx); len(recs) != 0 {
		t.Error("record with an unregistered signer must be skipped, not indexed")
	}
	if sched.LastError() != nil {
		t.Errorf("a skipped transaction is not a cycle failure: %v", sched.LastError())
	}
}

type failingRecordStore struct{ memRecordStore }

func (s *failingRecordStore) MaxBlockHeight(context.Context) (uint64, error) {
	return 0, domain.StoreUnavailableError{}
}

func TestStoreFailureAbortsCycle(t *testing.T) {
	ctx := context.Background()
	f := newIndexerFixture(t, InclusionPolicy{Mode: domain.IncludeAll})

	failing := &failingRecordStore{memRecordStore: *newMemRecordStore()}
	sched := NewScheduler(
		failing, f.templates, f.creators, f.orgs,
		&memLedger{}, f.indexer, nil,
		time.Minute, "", 1,
	)

	err := sched.RunCycle(ctx)
	if err == nil {
		t.Fatal("store failure must abort the cycle")
	}
	if sched.LastError() == nil {
		t.Error("cycle error must be surfaced")
	}
}

// deadRecordStore accepts reads but fails every write the way a dropped
// database connection does.
type deadRecordStore struct{ memRecordStore }

func (s *deadRecordStore) Upsert(context.Context, domain.Record) error {
	return errors.New("driver: bad connection")
}

func TestUpsertFailureAbortsCycle(t *testing.T) {
	ctx := context.Background()

	dead := &deadRecordStore{memRecordStore: *newMemRecordStore()}
	templates := newMemTemplateStore()
	creators := newMemCreatorStore()
	orgs := newMemOrganizationStore()

	registry := NewTemplateRegistry(templates, dead, nil, time.Minute)
	tpl, err := ParseTemplate(templateTx(t, "tplBasic", "basic", basicSchema()))
	if err != nil {
		t.Fatal(err)
	}
	templates.templates["tplBasic"] = tpl

	ix := NewIndexer(
		dead, registry,
		NewCreatorRegistry(creators), NewOrganizationRegistry(orgs),
		NewRecordDecoder(registry),
		InclusionPolicy{Mode: domain.IncludeAll}, nil,
	)

	tx := signedRecordTx(t, "tx1", 10)
	if err := creators.Save(ctx, domain.Creator{Handle: "signer", Address: tx.SignerAddress}, 1); err != nil {
		t.Fatal(err)
	}

	ledger := &memLedger{txs: map[string]ledgerdex.Transaction{"tx1": tx}}
	sched := NewScheduler(
		dead, templates, creators, orgs,
		ledger, ix, nil,
		time.Minute, "0.8.0", 1,
	)

	err = sched.RunCycle(ctx)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("write failure must abort the cycle as a store outage, got %v", err)
	}
	if sched.LastError() == nil {
		t.Error("aborted cycle must surface its error")
	}
}

func TestNormalizeProgress(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{math.NaN(), 0},
		{math.Inf(-1), 0},
		{math.Copysign(0, -1), 0},
		{-5, 0},
		{0, 0},
		{42.5, 42.5},
		{100, 100},
		{250, 100},
		{math.Inf(1), 100},
	}
	for _, c := range cases {
		if got := NormalizeProgress(c.in); got != c.want {
			t.Errorf("NormalizeProgress(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestProgressEmptyStore(t *testing.T) {
	ctx := context.Background()
	f := newIndexerFixture(t, InclusionPolicy{Mode: domain.IncludeAll})

	sched := newScheduler(f, &memLedger{}, nil)
	if p := sched.Progress(ctx); p != 0 {
		t.Errorf("empty store progress: %v", p)
	}

	f.records.records["did:ldx:a"] = domain.Record{DID: "did:ldx:a", Status: ledgerdex.StatusOriginal}
	f.records.records["did:ldx:b"] = domain.Record{DID: "did:ldx:b", Status: ledgerdex.StatusPending}
	if p := sched.Progress(ctx); p != 50 {
		t.Errorf("half-confirmed progress: %v", p)
	}
}

func TestRecordsCache(t *testing.T) {
	ctx := context.Background()
	records := newMemRecordStore()
	records.records["did:ldx:a"] = domain.Record{DID: "did:ldx:a", Status: ledgerdex.StatusOriginal}

	cache := NewRecordsCache(records, time.Hour)

	snap, err := cache.Get(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 1 {
		t.Fatalf("snapshot: %d", len(snap))
	}

	// a store write is invisible until refresh
	records.records["did:ldx:b"] = domain.Record{DID: "did:ldx:b", Status: ledgerdex.StatusOriginal}
	snap, _ = cache.Get(ctx, false)
	if len(snap) != 1 {
		t.Error("TTL-fresh snapshot must not re-read the store")
	}

	snap, _ = cache.Get(ctx, true)
	if len(snap) != 2 {
		t.Error("forced refresh must re-read the store")
	}

	if _, ok := cache.Lookup("did:ldx:b"); !ok {
		t.Error("byDID lookup missing refreshed record")
	}
	if _, ok := cache.Lookup("did:ldx:missing"); ok {
		t.Error("lookup hit for absent DID")
	}
}
