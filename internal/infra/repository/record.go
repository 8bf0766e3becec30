package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/openindexlabs/ledgerdex"
	"github.com/openindexlabs/ledgerdex/internal/domain"
	"github.com/openindexlabs/ledgerdex/internal/infra/database/models"
)

type RecordRepository struct {
	db *gorm.DB
}

func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Upsert converges a record onto original status. A missing DID is created;
// an existing one has its fields replaced and status forced to original,
// which is how pendingConfirmation rows placed by the publish collaborator
// are confirmed. Deleted rows are tombstones and are never resurrected.
func (r *RecordRepository) Upsert(ctx context.Context, rec domain.Record) error {
	row, err := toRecordModel(rec)
	if err != nil {
		return err
	}

	return storeErr(r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Record
		err := tx.Clauses(lockForUpdate()).
			Where("did = ?", rec.DID).
			Take(&existing).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			row.Status = string(ledgerdex.StatusOriginal)
			return tx.Create(&row).Error
		}
		if err != nil {
			return err
		}

		if existing.Status == string(ledgerdex.StatusDeleted) {
			// terminal: a re-seen transaction must not resurrect
			return nil
		}

		row.Status = string(ledgerdex.StatusOriginal)
		row.IndexedAt = existing.IndexedAt
		return tx.Model(&models.Record{}).
			Where("did = ?", rec.DID).
			Updates(map[string]any{
				"record_type":        row.RecordType,
				"data":               row.Data,
				"templates_used":     row.TemplatesUsed,
				"creator_handle":     row.CreatorHandle,
				"creator_address":    row.CreatorAddress,
				"creator_did":        row.CreatorDID,
				"creator_public_key": row.CreatorPublicKey,
				"block_height":       row.BlockHeight,
				"protocol_version":   row.ProtocolVersion,
				"signature":          row.Signature,
				"status":             row.Status,
			}).Error
	}))
}

// Get returns a record by DID, tombstones included.
func (r *RecordRepository) Get(ctx context.Context, did string) (domain.Record, error) {
	var row models.Record
	err := r.db.WithContext(ctx).
		Where("did = ?", did).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Record{}, domain.NotFoundError{Resource: "record"}
	}
	if err != nil {
		return domain.Record{}, storeErr(err)
	}
	return fromRecordModel(row)
}

// List returns every non-deleted record, the wholesale read behind the
// records cache.
func (r *RecordRepository) List(ctx context.Context) ([]domain.Record, error) {
	var rows []models.Record
	err := r.db.WithContext(ctx).
		Where("status <> ?", string(ledgerdex.StatusDeleted)).
		Order("block_height asc").
		Find(&rows).Error
	if err != nil {
		return nil, storeErr(err)
	}

	out := make([]domain.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := fromRecordModel(row)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Delete tombstones a record. The row is kept so the DID can never be
// re-indexed into existence.
func (r *RecordRepository) Delete(ctx context.Context, did string) error {
	res := r.db.WithContext(ctx).Model(&models.Record{}).
		Where("did = ?", did).
		Update("status", string(ledgerdex.StatusDeleted))
	if res.Error != nil {
		return storeErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NotFoundError{Resource: "record"}
	}
	return nil
}

// CountTemplateRefs counts non-deleted records whose templatesUsed map
// references the given template transaction id.
func (r *RecordRepository) CountTemplateRefs(ctx context.Context, templateTxID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Record{}).
		Where("status <> ?", string(ledgerdex.StatusDeleted)).
		Where("templates_used LIKE ?", "%\""+templateTxID+"\"%").
		Count(&count).Error
	return count, storeErr(err)
}

// MaxBlockHeight returns the highest confirmed block height among records.
func (r *RecordRepository) MaxBlockHeight(ctx context.Context) (uint64, error) {
	return maxBlockHeight(r.db.WithContext(ctx).Model(&models.Record{}).
		Where("status = ?", string(ledgerdex.StatusOriginal)))
}

// Counts returns confirmed and pending record counts.
func (r *RecordRepository) Counts(ctx context.Context) (confirmed int64, pending int64, err error) {
	db := r.db.WithContext(ctx).Model(&models.Record{})
	if err = db.Where("status = ?", string(ledgerdex.StatusOriginal)).Count(&confirmed).Error; err != nil {
		err = storeErr(err)
		return
	}
	err = storeErr(r.db.WithContext(ctx).Model(&models.Record{}).
		Where("status = ?", string(ledgerdex.StatusPending)).Count(&pending).Error)
	return
}

func toRecordModel(rec domain.Record) (models.Record, error) {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return models.Record{}, err
	}
	used, err := json.Marshal(rec.TemplatesUsed)
	if err != nil {
		return models.Record{}, err
	}

	indexedAt := rec.IndexedAt
	if indexedAt.IsZero() {
		indexedAt = time.Now()
	}

	return models.Record{
		DID:              rec.DID,
		RecordType:       rec.RecordType,
		Data:             string(data),
		TemplatesUsed:    string(used),
		CreatorHandle:    rec.Creator.Handle,
		CreatorAddress:   rec.Creator.Address,
		CreatorDID:       rec.Creator.DID,
		CreatorPublicKey: rec.Creator.PublicKey,
		BlockHeight:      rec.BlockHeight,
		IndexedAt:        indexedAt,
		ProtocolVersion:  rec.ProtocolVersion,
		Signature:        rec.Signature,
		Status:           string(rec.Status),
	}, nil
}

func fromRecordModel(row models.Record) (domain.Record, error) {
	var data map[string]map[string]any
	if err := json.Unmarshal([]byte(row.Data), &data); err != nil {
		return domain.Record{}, err
	}
	var used map[string]string
	if err := json.Unmarshal([]byte(row.TemplatesUsed), &used); err != nil {
		return domain.Record{}, err
	}

	return domain.Record{
		DID:           row.DID,
		RecordType:    row.RecordType,
		Data:          data,
		TemplatesUsed: used,
		Creator: domain.Creator{
			Handle:    row.CreatorHandle,
			Address:   row.CreatorAddress,
			DID:       row.CreatorDID,
			PublicKey: row.CreatorPublicKey,
		},
		BlockHeight:     row.BlockHeight,
		IndexedAt:       row.IndexedAt,
		ProtocolVersion: row.ProtocolVersion,
		Signature:       row.Signature,
		Status:          ledgerdex.RecordStatus(row.Status),
	}, nil
}
