package access

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openindexlabs/ledgerdex/internal/domain"
)

type mockVerifier struct {
	mu      sync.Mutex
	members map[string]bool
	calls   int
}

func (m *mockVerifier) IsMember(ctx context.Context, publicKey, orgDID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.members[publicKey+"|"+orgDID], nil
}

func record(level string, owner string, sharedWith []string) domain.Record {
	ac := map[string]any{}
	if level != "" {
		ac["access_level"] = level
	}
	if owner != "" {
		ac["owner_public_key"] = owner
	}
	if sharedWith != nil {
		shared := make([]any, len(sharedWith))
		for i, s := range sharedWith {
			shared[i] = s
		}
		ac["shared_with"] = shared
	}
	data := map[string]map[string]any{
		"basic": {"name": "r"},
	}
	if len(ac) > 0 {
		data["accessControl"] = ac
	}
	return domain.Record{DID: "did:ldx:r", Data: data}
}

func TestClassifyPublicAndAbsent(t *testing.T) {
	e := NewEvaluator(&mockVerifier{}, 4)
	ctx := context.Background()

	assert.True(t, e.Classify(ctx, record("", "", nil), Identity{}))
	assert.True(t, e.Classify(ctx, record("public", "", nil), Identity{}))
	assert.True(t, e.Classify(ctx, record("public", "", nil), Identity{PublicKey: "k1"}))
}

func TestClassifyPrivate(t *testing.T) {
	e := NewEvaluator(&mockVerifier{}, 4)
	ctx := context.Background()

	rec := record("private", "owner-key", nil)
	assert.True(t, e.Classify(ctx, rec, Identity{PublicKey: "owner-key"}))
	assert.False(t, e.Classify(ctx, rec, Identity{PublicKey: "other-key"}))
	assert.False(t, e.Classify(ctx, rec, Identity{}))
}

func TestClassifyLegacyIsPrivate(t *testing.T) {
	e := NewEvaluator(&mockVerifier{}, 4)
	ctx := context.Background()

	rec := domain.Record{
		DID: "did:ldx:legacy",
		Data: map[string]map[string]any{
			"accessControl": {"is_private": true, "owner_public_key": "owner-key"},
		},
	}
	assert.True(t, e.Classify(ctx, rec, Identity{PublicKey: "owner-key"}))
	assert.False(t, e.Classify(ctx, rec, Identity{PublicKey: "someone-else"}))
}

func TestClassifyOrganization(t *testing.T) {
	v := &mockVerifier{members: map[string]bool{
		"member-key|did:ldx:org1": true,
	}}
	e := NewEvaluator(v, 4)
	ctx := context.Background()

	rec := record("organization", "owner-key", []string{"did:ldx:org1", "did:ldx:org2"})

	assert.True(t, e.Classify(ctx, rec, Identity{PublicKey: "member-key"}))
	assert.False(t, e.Classify(ctx, rec, Identity{PublicKey: "stranger-key"}))
}

// A requester with no public key is excluded from organization records
// regardless of shared_with contents.
func TestClassifyOrganizationNoKey(t *testing.T) {
	v := &mockVerifier{members: map[string]bool{}}
	e := NewEvaluator(v, 4)

	rec := record("organization", "owner-key", []string{"did:ldx:org1"})
	assert.False(t, e.Classify(context.Background(), rec, Identity{}))
	assert.Zero(t, v.calls, "keyless requester must not trigger membership checks")
}

func TestClassifyOrganizationEmptySharedWith(t *testing.T) {
	e := NewEvaluator(&mockVerifier{}, 4)

	rec := record("organization", "owner-key", []string{})
	assert.False(t, e.Classify(context.Background(), rec, Identity{PublicKey: "any"}))
}

func TestFilterVisiblePreservesOrder(t *testing.T) {
	v := &mockVerifier{members: map[string]bool{
		"k|did:ldx:org1": true,
	}}
	e := NewEvaluator(v, 2)

	records := []domain.Record{
		record("public", "", nil),
		record("private", "other", nil),
		record("organization", "o", []string{"did:ldx:org1"}),
		record("", "", nil),
		record("shared", "k", nil),
	}

	out := e.FilterVisible(context.Background(), records, Identity{PublicKey: "k"})

	assert.Len(t, out, 4)
	assert.Equal(t, "public", string(out[0].Access().Level))
	assert.Equal(t, "organization", string(out[1].Access().Level))
}
