package repository

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/openindexlabs/ledgerdex/internal/domain"
	"github.com/openindexlabs/ledgerdex/internal/infra/database/models"
)

type CreatorRepository struct {
	db *gorm.DB
}

func NewCreatorRepository(db *gorm.DB) *CreatorRepository {
	return &CreatorRepository{db: db}
}

func (r *CreatorRepository) GetByAddress(ctx context.Context, address string) (domain.Creator, error) {
	var row models.Creator
	err := r.db.WithContext(ctx).
		Where("address = ?", address).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Creator{}, domain.NotFoundError{Resource: "creator"}
	}
	if err != nil {
		return domain.Creator{}, storeErr(err)
	}
	return fromCreatorModel(row), nil
}

// HandleTaken reports whether a handle is already registered, driving the
// auto-suffix collision logic in the identity registry.
func (r *CreatorRepository) HandleTaken(ctx context.Context, handle string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Creator{}).
		Where("handle = ?", handle).
		Count(&count).Error
	return count > 0, storeErr(err)
}

// Save registers a creator. Conflicts on address are duplicate registrations
// and are ignored.
func (r *CreatorRepository) Save(ctx context.Context, c domain.Creator, blockHeight uint64) error {
	row := models.Creator{
		Handle:      c.Handle,
		Address:     c.Address,
		DID:         c.DID,
		PublicKey:   c.PublicKey,
		BlockHeight: blockHeight,
	}
	return storeErr(r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoNothing: true,
	}).Create(&row).Error)
}

func (r *CreatorRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Creator{}).Count(&count).Error
	return count, storeErr(err)
}

func (r *CreatorRepository) MaxBlockHeight(ctx context.Context) (uint64, error) {
	return maxBlockHeight(r.db.WithContext(ctx).Model(&models.Creator{}))
}

func fromCreatorModel(row models.Creator) domain.Creator {
	return domain.Creator{
		Handle:    row.Handle,
		Address:   row.Address,
		DID:       row.DID,
		PublicKey: row.PublicKey,
	}
}

type OrganizationRepository struct {
	db *gorm.DB
}

func NewOrganizationRepository(db *gorm.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

func (r *OrganizationRepository) Get(ctx context.Context, did string) (domain.Organization, error) {
	var row models.Organization
	err := r.db.WithContext(ctx).
		Where("did = ?", did).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Organization{}, domain.NotFoundError{Resource: "organization"}
	}
	if err != nil {
		return domain.Organization{}, storeErr(err)
	}
	return fromOrganizationModel(row)
}

func (r *OrganizationRepository) Save(ctx context.Context, org domain.Organization, blockHeight uint64) error {
	admins, err := json.Marshal(org.AdminPublicKeys)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(org.Metadata)
	if err != nil {
		return err
	}

	row := models.Organization{
		DID:              org.DID,
		Handle:           org.Handle,
		PublicKey:        org.PublicKey,
		AdminPublicKeys:  string(admins),
		MembershipPolicy: org.MembershipPolicy,
		Metadata:         string(meta),
		CreatorAddress:   org.CreatorAddress,
		BlockHeight:      blockHeight,
	}
	return storeErr(r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "did"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"handle", "public_key", "admin_public_keys", "membership_policy", "metadata",
		}),
	}).Create(&row).Error)
}

func (r *OrganizationRepository) Delete(ctx context.Context, did string) error {
	res := r.db.WithContext(ctx).Delete(&models.Organization{}, "did = ?", did)
	if res.Error != nil {
		return storeErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NotFoundError{Resource: "organization"}
	}
	return nil
}

func (r *OrganizationRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Organization{}).Count(&count).Error
	return count, storeErr(err)
}

func (r *OrganizationRepository) MaxBlockHeight(ctx context.Context) (uint64, error) {
	return maxBlockHeight(r.db.WithContext(ctx).Model(&models.Organization{}))
}

func fromOrganizationModel(row models.Organization) (domain.Organization, error) {
	var admins []string
	if row.AdminPublicKeys != "" {
		if err := json.Unmarshal([]byte(row.AdminPublicKeys), &admins); err != nil {
			return domain.Organization{}, err
		}
	}
	meta := map[string]any{}
	if row.Metadata != "" {
		if err := json.Unmarshal([]byte(row.Metadata), &meta); err != nil {
			return domain.Organization{}, err
		}
	}
	return domain.Organization{
		Handle:           row.Handle,
		DID:              row.DID,
		PublicKey:        row.PublicKey,
		AdminPublicKeys:  admins,
		MembershipPolicy: row.MembershipPolicy,
		Metadata:         meta,
		CreatorAddress:   row.CreatorAddress,
	}, nil
}

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByPublicKey(ctx context.Context, publicKey string) (domain.User, error) {
	var row models.User
	err := r.db.WithContext(ctx).
		Where("public_key = ?", publicKey).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.User{}, domain.NotFoundError{Resource: "user"}
	}
	if err != nil {
		return domain.User{}, storeErr(err)
	}
	return domain.User{PublicKey: row.PublicKey, Handle: row.Handle}, nil
}
