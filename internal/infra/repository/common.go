package repository

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/openindexlabs/ledgerdex/internal/domain"
)

func lockForUpdate() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}

// storeErr classifies a database error as a store connectivity failure.
// Domain refusals pass through unchanged so callers can still branch on
// them; everything else the driver reports means the store cannot be
// trusted for the rest of the cycle.
func storeErr(err error) error {
	if err == nil ||
		errors.Is(err, gorm.ErrRecordNotFound) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	return domain.StoreUnavailableError{Cause: err}
}

// maxBlockHeight reads MAX(block_height) from an already-scoped query,
// treating an empty table as zero.
func maxBlockHeight(db *gorm.DB) (uint64, error) {
	var max *uint64
	err := db.Select("MAX(block_height)").Scan(&max).Error
	if err != nil {
		return 0, storeErr(err)
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}
