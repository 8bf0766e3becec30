// Package access classifies per-record visibility against a requester
// identity. Rules, in order: no access level or public means visible;
// private and shared require the requester to own the record's key;
// organization requires verified membership in at least one organization the
// record is shared with.
package access

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/openindexlabs/ledgerdex"
	"github.com/openindexlabs/ledgerdex/internal/domain"
)

// Identity is the requester as seen by the evaluator. An empty PublicKey is
// an anonymous requester.
type Identity struct {
	PublicKey string
}

// MembershipVerifier is the external organization-membership collaborator.
type MembershipVerifier interface {
	IsMember(ctx context.Context, publicKey string, orgDID string) (bool, error)
}

type Evaluator struct {
	verifier    MembershipVerifier
	concurrency int
}

func NewEvaluator(verifier MembershipVerifier, concurrency int) *Evaluator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Evaluator{verifier: verifier, concurrency: concurrency}
}

// Classify decides whether one record is visible to the requester.
func (e *Evaluator) Classify(ctx context.Context, rec domain.Record, id Identity) bool {
	meta := rec.Access()

	switch meta.Level {
	case ledgerdex.AccessPublic, "":
		return true

	case ledgerdex.AccessPrivate, ledgerdex.AccessShared:
		return id.PublicKey != "" && id.PublicKey == ownerKey(rec, meta)

	case ledgerdex.AccessOrganization:
		if id.PublicKey == "" || len(meta.SharedWith) == 0 {
			return false
		}
		if id.PublicKey == ownerKey(rec, meta) {
			return true
		}
		for _, orgDID := range meta.SharedWith {
			member, err := e.verifier.IsMember(ctx, id.PublicKey, orgDID)
			if err != nil {
				slog.Warn("membership check failed, treating as non-member",
					"org", orgDID, "error", err)
				continue
			}
			if member {
				return true
			}
		}
		return false
	}

	return false
}

// FilterVisible evaluates a batch of records with bounded concurrent
// fan-out. Order is preserved.
func (e *Evaluator) FilterVisible(ctx context.Context, records []domain.Record, id Identity) []domain.Record {
	visible := make([]bool, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i := range records {
		g.Go(func() error {
			visible[i] = e.Classify(gctx, records[i], id)
			return nil
		})
	}
	// workers only record verdicts; no error can surface here
	_ = g.Wait()

	out := make([]domain.Record, 0, len(records))
	for i, rec := range records {
		if visible[i] {
			out = append(out, rec)
		}
	}
	return out
}

// ownerKey prefers the embedded owner_public_key and falls back to the
// indexed creator key for records published before the field existed.
func ownerKey(rec domain.Record, meta ledgerdex.AccessMeta) string {
	if meta.OwnerPublicKey != "" {
		return meta.OwnerPublicKey
	}
	return rec.Creator.PublicKey
}
