package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/openindexlabs/ledgerdex"
	"github.com/openindexlabs/ledgerdex/access"
	"github.com/openindexlabs/ledgerdex/internal/domain"
	"github.com/openindexlabs/ledgerdex/internal/usecase"
)

// --- mocks ---

type mockRecordStore struct {
	records map[string]domain.Record
}

func (m *mockRecordStore) Upsert(ctx context.Context, rec domain.Record) error {
	m.records[rec.DID] = rec
	return nil
}

func (m *mockRecordStore) Get(ctx context.Context, did string) (domain.Record, error) {
	rec, ok := m.records[did]
	if !ok {
		return domain.Record{}, domain.NotFoundError{Resource: "record"}
	}
	return rec, nil
}

func (m *mockRecordStore) List(ctx context.Context) ([]domain.Record, error) {
	out := make([]domain.Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DID < out[j].DID })
	return out, nil
}

func (m *mockRecordStore) Delete(ctx context.Context, did string) error {
	delete(m.records, did)
	return nil
}

func (m *mockRecordStore) CountTemplateRefs(ctx context.Context, templateTxID string) (int64, error) {
	return 0, nil
}

func (m *mockRecordStore) MaxBlockHeight(ctx context.Context) (uint64, error) { return 0, nil }

func (m *mockRecordStore) Counts(ctx context.Context) (int64, int64, error) {
	return int64(len(m.records)), 0, nil
}

type mockTemplateStore struct {
	templates map[string]domain.Template
}

func (m *mockTemplateStore) Get(ctx context.Context, txID string) (domain.Template, error) {
	tpl, ok := m.templates[txID]
	if !ok {
		return domain.Template{}, domain.NotFoundError{Resource: "template"}
	}
	return tpl, nil
}

func (m *mockTemplateStore) Save(ctx context.Context, tpl domain.Template, blockHeight uint64) error {
	m.templates[tpl.TxID] = tpl
	return nil
}

func (m *mockTemplateStore) Delete(ctx context.Context, txID string) error {
	delete(m.templates, txID)
	return nil
}

func (m *mockTemplateStore) Exists(ctx context.Context, txID string) (bool, error) {
	_, ok := m.templates[txID]
	return ok, nil
}

func (m *mockTemplateStore) Count(ctx context.Context) (int64, error) {
	return int64(len(m.templates)), nil
}

func (m *mockTemplateStore) MaxBlockHeight(ctx context.Context) (uint64, error) { return 0, nil }

type mockLedger struct{}

func (m *mockLedger) FetchSince(ctx context.Context, minBlock uint64) ([]string, error) {
	return nil, nil
}

func (m *mockLedger) GetTransaction(ctx context.Context, txid string) (ledgerdex.Transaction, error) {
	return ledgerdex.Transaction{}, domain.NotFoundError{Resource: "transaction"}
}

type mockVerifier struct{}

func (m *mockVerifier) IsMember(ctx context.Context, publicKey string, orgDID string) (bool, error) {
	return false, nil
}

type mockSync struct {
	state   domain.SyncState
	lastErr error
}

func (m *mockSync) State() domain.SyncState              { return m.state }
func (m *mockSync) LastSync() time.Time                  { return time.Unix(1700000000, 0) }
func (m *mockSync) LastError() error                     { return m.lastErr }
func (m *mockSync) Progress(ctx context.Context) float64 { return 75 }

func (m *mockSync) Watermark(ctx context.Context) (uint64, error) { return 42, nil }

// --- fixtures ---

func testRecord(did, name, access string, tags ...string) domain.Record {
	data := map[string]map[string]any{
		"basic": {"name": name, "tagItems": tags},
	}
	if access != "" {
		data["accessControl"] = map[string]any{"access_level": access, "owner_public_key": "pk-owner"}
	}
	return domain.Record{
		DID:        did,
		RecordType: "recipe",
		Data:       data,
		Creator:    domain.Creator{Handle: "alice", PublicKey: "pk-owner"},
		Status:     ledgerdex.StatusOriginal,
		IndexedAt:  time.Unix(1700000000, 0),
	}
}

func newTestHandler(t *testing.T, records ...domain.Record) (*Handler, *echo.Echo) {
	t.Helper()

	store := &mockRecordStore{records: map[string]domain.Record{}}
	for _, rec := range records {
		store.records[rec.DID] = rec
	}

	templates := &mockTemplateStore{templates: map[string]domain.Template{
		"tx-basic": {
			TxID:   "tx-basic",
			Name:   "basic",
			Fields: map[string]domain.FieldDef{"name": {Type: "string", Index: 0}},
		},
	}}

	cache := usecase.NewRecordsCache(store, time.Minute)
	registry := usecase.NewTemplateRegistry(templates, store, &mockLedger{}, time.Minute)
	evaluator := access.NewEvaluator(&mockVerifier{}, 4)
	engine := usecase.NewQueryEngine(cache, evaluator, &mockSync{})

	h := NewHandler(engine, registry, &mockSync{state: domain.SyncIdle}, nil)
	e := echo.New()
	h.RegisterRoutes(e)
	return h, e
}

func doGet(e *echo.Echo, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	res := httptest.NewRecorder()
	e.ServeHTTP(res, req)
	return res
}

// --- tests ---

func TestHandleHealth(t *testing.T) {
	_, e := newTestHandler(t)

	res := doGet(e, "/health")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", res.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected ok status, got %v", body["status"])
	}
	if body["syncState"] != "idle" {
		t.Fatalf("expected idle state, got %v", body["syncState"])
	}
	if body["progress"] != 75.0 {
		t.Fatalf("expected progress 75, got %v", body["progress"])
	}
}

func TestHandleQueryFiltersByTag(t *testing.T) {
	_, e := newTestHandler(t,
		testRecord("did:ldx:aaa", "pasta", "", "dinner"),
		testRecord("did:ldx:bbb", "salad", "", "lunch"),
	)

	res := doGet(e, "/api/records?tags=dinner")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", res.Code)
	}

	var result usecase.QueryResult
	if err := json.Unmarshal(res.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.TotalRecords != 1 {
		t.Fatalf("expected 1 record, got %d", result.TotalRecords)
	}
	if result.Records[0]["did"] != "did:ldx:aaa" {
		t.Fatalf("expected did:ldx:aaa, got %v", result.Records[0]["did"])
	}
}

func TestHandleQueryMalformedDateRejected(t *testing.T) {
	_, e := newTestHandler(t)

	res := doGet(e, "/api/records?since=notadate")
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", res.Code)
	}
}

func TestHandleGetRecordHidesPrivate(t *testing.T) {
	_, e := newTestHandler(t,
		testRecord("did:ldx:aaa", "public dish", ""),
		testRecord("did:ldx:bbb", "secret dish", string(ledgerdex.AccessPrivate)),
	)

	res := doGet(e, "/api/records/did:ldx:aaa")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", res.Code)
	}

	// private record without the owner's key looks like it does not exist
	res = doGet(e, "/api/records/did:ldx:bbb")
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", res.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/records/did:ldx:bbb", nil)
	req = req.WithContext(context.WithValue(req.Context(), domain.RequesterKeyCtxKey, "pk-owner"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner, got %d", rec.Code)
	}
}

func TestHandleGetTemplate(t *testing.T) {
	_, e := newTestHandler(t)

	res := doGet(e, "/api/templates/tx-basic")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", res.Code)
	}

	var tpl domain.Template
	if err := json.Unmarshal(res.Body.Bytes(), &tpl); err != nil {
		t.Fatal(err)
	}
	if tpl.Name != "basic" {
		t.Fatalf("expected template basic, got %q", tpl.Name)
	}

	res = doGet(e, "/api/templates/tx-missing")
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", res.Code)
	}
}

func TestHandleDeleteTemplateRequiresIssuer(t *testing.T) {
	_, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/templates/tx-basic", nil)
	res := httptest.NewRecorder()
	e.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", res.Code)
	}
}

func TestHandleTagSummary(t *testing.T) {
	_, e := newTestHandler(t,
		testRecord("did:ldx:aaa", "pasta", "", "dinner", "italian"),
		testRecord("did:ldx:bbb", "pizza", "", "dinner"),
	)

	res := doGet(e, "/api/tags")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", res.Code)
	}

	var result usecase.QueryResult
	if err := json.Unmarshal(res.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if len(result.TagSummary) != 2 {
		t.Fatalf("expected 2 tags, got %d", len(result.TagSummary))
	}
	if result.TagSummary[0].Tag != "dinner" || result.TagSummary[0].Count != 2 {
		t.Fatalf("expected dinner x2 first, got %+v", result.TagSummary[0])
	}
}

// stubRealtimer feeds events to a session and reports when the session's
// context tears it down.
type stubRealtimer struct {
	events  chan ledgerdex.Event
	stopped chan struct{}
}

func (s *stubRealtimer) Realtime(ctx context.Context, filters <-chan []string, output chan<- ledgerdex.Event) {
	defer close(s.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-filters:
		case ev := <-s.events:
			select {
			case output <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func TestHandleRealtimeTeardown(t *testing.T) {
	h, e := newTestHandler(t)
	stub := &stubRealtimer{
		events:  make(chan ledgerdex.Event, 1),
		stopped: make(chan struct{}),
	}
	h.signal = stub

	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/realtime"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "listen", "recordTypes": []string{"recipe"}}); err != nil {
		t.Fatal(err)
	}

	stub.events <- ledgerdex.Event{DID: "did:ldx:aaa", RecordType: "recipe", Action: "indexed"}
	var got ledgerdex.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got.DID != "did:ldx:aaa" {
		t.Errorf("event: %+v", got)
	}

	// dropping the connection must end the session, not leak it
	conn.Close()
	select {
	case <-stub.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("realtime session still running after client disconnect")
	}
}
