package usecase

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/openindexlabs/ledgerdex"
	"github.com/openindexlabs/ledgerdex/internal/domain"
)

// InclusionPolicy gates which record types get persisted. Delete messages
// always bypass it.
type InclusionPolicy struct {
	Mode  domain.InclusionMode
	Types map[string]bool
}

func NewInclusionPolicy(mode domain.InclusionMode, types []string) InclusionPolicy {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return InclusionPolicy{Mode: mode, Types: set}
}

func (p InclusionPolicy) Allows(recordType string) bool {
	switch p.Mode {
	case domain.IncludeWhitelist:
		return p.Types[recordType]
	case domain.IncludeBlacklist:
		return !p.Types[recordType]
	default:
		return true
	}
}

// Indexer is the single writer of the durable store. It routes incoming
// transactions by record type, decodes generic records, and processes delete
// messages with creator-authorization checks.
type Indexer struct {
	records       RecordStore
	templates     *TemplateRegistry
	creators      *CreatorRegistry
	organizations *OrganizationRegistry
	decoder       *RecordDecoder
	policy        InclusionPolicy
	announcer     Announcer
}

func NewIndexer(
	records RecordStore,
	templates *TemplateRegistry,
	creators *CreatorRegistry,
	organizations *OrganizationRegistry,
	decoder *RecordDecoder,
	policy InclusionPolicy,
	announcer Announcer,
) *Indexer {
	return &Indexer{
		records:       records,
		templates:     templates,
		creators:      creators,
		organizations: organizations,
		decoder:       decoder,
		policy:        policy,
		announcer:     announcer,
	}
}

// Index processes one confirmed transaction. Registration and template
// transactions are intercepted before generic decoding; delete messages
// bypass the inclusion policy.
func (ix *Indexer) Index(ctx context.Context, tx ledgerdex.Transaction) error {
	recordType := tx.Tag(ledgerdex.TagRecordType)

	switch recordType {
	case ledgerdex.TypeTemplate:
		return ix.templates.Index(ctx, tx)
	case ledgerdex.TypeCreatorRegistration:
		return ix.creators.Register(ctx, tx)
	case ledgerdex.TypeOrganization:
		return ix.organizations.Register(ctx, tx)
	case ledgerdex.TypeDeleteMessage:
		return ix.applyDelete(ctx, tx)
	}

	if !ix.policy.Allows(recordType) {
		slog.Debug("record type excluded by policy", "tx_id", tx.ID, "record_type", recordType)
		return nil
	}

	data, used := ix.decoder.Decode(ctx, tx)
	if data == nil {
		slog.Warn("transaction decoded to nothing, skipping", "tx_id", tx.ID)
		return nil
	}

	creator, err := ix.creators.Resolve(ctx, tx.SignerAddress)
	if err != nil {
		return errors.Wrapf(err, "resolve creator %s", tx.SignerAddress)
	}

	rec := domain.Record{
		DID:             ledgerdex.DIDFromTxID(tx.ID),
		RecordType:      recordType,
		Data:            data,
		TemplatesUsed:   used,
		Creator:         creator,
		BlockHeight:     tx.BlockHeight,
		ProtocolVersion: tx.ProtocolVersion,
		Signature:       tx.Signature,
		Status:          ledgerdex.StatusOriginal,
	}

	if err := ix.records.Upsert(ctx, rec); err != nil {
		return domain.StoreUnavailableError{Cause: errors.Wrapf(err, "upsert %s", rec.DID)}
	}
	if ix.announcer != nil {
		ix.announcer.AnnounceIndexed(ctx, rec)
	}
	return nil
}

// applyDelete removes the entity a delete message targets. The issuer must
// be the target's original creator. Legacy messages carry a bare txid with
// no entity class, so the template collection is probed before assuming a
// record delete.
func (ix *Indexer) applyDelete(ctx context.Context, tx ledgerdex.Transaction) error {
	var msg ledgerdex.DeleteMessage
	if err := json.Unmarshal(tx.RawPayload, &msg); err != nil {
		return errors.Wrap(err, "malformed delete message")
	}
	if msg.TargetDID == "" {
		return errors.New("delete message has no target")
	}
	msg.IssuerAddress = tx.SignerAddress

	target := msg.TargetDID
	if !ledgerdex.IsDID(target) {
		// bare txid: could name a template or a record
		exists, err := ix.templates.templates.Exists(ctx, target)
		if err != nil {
			return domain.StoreUnavailableError{Cause: err}
		}
		if exists {
			return ix.templates.Delete(ctx, target, msg.IssuerAddress)
		}
		target = ledgerdex.DIDFromTxID(target)
	}

	if txID := ledgerdex.TxIDFromDID(target); txID != "" {
		exists, err := ix.templates.templates.Exists(ctx, txID)
		if err != nil {
			return domain.StoreUnavailableError{Cause: err}
		}
		if exists {
			return ix.templates.Delete(ctx, txID, msg.IssuerAddress)
		}
	}

	rec, err := ix.records.Get(ctx, target)
	switch {
	case err == nil:
		if rec.Creator.Address != msg.IssuerAddress {
			return domain.UnauthorizedError{Reason: "delete issuer is not the record creator"}
		}
		if err := ix.records.Delete(ctx, target); err != nil {
			return domain.StoreUnavailableError{Cause: err}
		}
		slog.Info("record deleted", "did", target, "issuer", msg.IssuerAddress)
		return nil
	case !errors.Is(err, domain.ErrNotFound):
		return domain.StoreUnavailableError{Cause: err}
	}

	// not a record; organizations are the remaining DID-keyed collection
	if err := ix.organizations.Remove(ctx, target, msg.IssuerAddress); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.Warn("delete target not found in any collection", "target", msg.TargetDID)
			return nil
		}
		return err
	}
	slog.Info("organization deleted", "did", target, "issuer", msg.IssuerAddress)
	return nil
}
