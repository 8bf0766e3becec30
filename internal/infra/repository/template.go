package repository

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/openindexlabs/ledgerdex"
	"github.com/openindexlabs/ledgerdex/internal/domain"
	"github.com/openindexlabs/ledgerdex/internal/infra/database/models"
)

type TemplateRepository struct {
	db *gorm.DB
}

func NewTemplateRepository(db *gorm.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

func (r *TemplateRepository) Get(ctx context.Context, txID string) (domain.Template, error) {
	var row models.Template
	err := r.db.WithContext(ctx).
		Where("tx_id = ?", txID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Template{}, domain.NotFoundError{Resource: "template"}
	}
	if err != nil {
		return domain.Template{}, storeErr(err)
	}
	return fromTemplateModel(row)
}

// Save is idempotent: templates are immutable once confirmed, so a conflict
// on tx_id is a duplicate write and is ignored.
func (r *TemplateRepository) Save(ctx context.Context, tpl domain.Template, blockHeight uint64) error {
	fields, err := json.Marshal(tpl.Fields)
	if err != nil {
		return err
	}
	enums, err := json.Marshal(tpl.EnumValues)
	if err != nil {
		return err
	}

	row := models.Template{
		TxID:           tpl.TxID,
		Name:           tpl.Name,
		Fields:         string(fields),
		EnumValues:     string(enums),
		CreatorAddress: tpl.CreatorAddress,
		BlockHeight:    blockHeight,
		Status:         string(tpl.Status),
	}

	return storeErr(r.db.WithContext(ctx).Clauses(clause.OnConflict{
		DoNothing: true,
	}).Create(&row).Error)
}

func (r *TemplateRepository) Delete(ctx context.Context, txID string) error {
	res := r.db.WithContext(ctx).Delete(&models.Template{}, "tx_id = ?", txID)
	if res.Error != nil {
		return storeErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NotFoundError{Resource: "template"}
	}
	return nil
}

// Exists reports whether a template row is present, used to disambiguate
// legacy delete-message shapes before assuming record deletion.
func (r *TemplateRepository) Exists(ctx context.Context, txID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Template{}).
		Where("tx_id = ?", txID).
		Count(&count).Error
	return count > 0, storeErr(err)
}

func (r *TemplateRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Template{}).Count(&count).Error
	return count, storeErr(err)
}

func (r *TemplateRepository) MaxBlockHeight(ctx context.Context) (uint64, error) {
	return maxBlockHeight(r.db.WithContext(ctx).Model(&models.Template{}))
}

func fromTemplateModel(row models.Template) (domain.Template, error) {
	var fields map[string]domain.FieldDef
	if err := json.Unmarshal([]byte(row.Fields), &fields); err != nil {
		return domain.Template{}, err
	}
	enums := map[string][]string{}
	if row.EnumValues != "" {
		if err := json.Unmarshal([]byte(row.EnumValues), &enums); err != nil {
			return domain.Template{}, err
		}
	}
	return domain.Template{
		TxID:           row.TxID,
		Name:           row.Name,
		Fields:         fields,
		EnumValues:     enums,
		CreatorAddress: row.CreatorAddress,
		Status:         ledgerdex.RecordStatus(row.Status),
	}, nil
}
