package usecase

import (
	"context"

	"github.com/openindexlabs/ledgerdex"
	"github.com/openindexlabs/ledgerdex/internal/domain"
)

// RecordStore defines storage operations for indexed records.
type RecordStore interface {
	Upsert(ctx context.Context, rec domain.Record) error
	Get(ctx context.Context, did string) (domain.Record, error)
	List(ctx context.Context) ([]domain.Record, error)
	Delete(ctx context.Context, did string) error
	CountTemplateRefs(ctx context.Context, templateTxID string) (int64, error)
	MaxBlockHeight(ctx context.Context) (uint64, error)
	Counts(ctx context.Context) (confirmed int64, pending int64, err error)
}

// TemplateStore defines storage operations for schema templates.
type TemplateStore interface {
	Get(ctx context.Context, txID string) (domain.Template, error)
	Save(ctx context.Context, tpl domain.Template, blockHeight uint64) error
	Delete(ctx context.Context, txID string) error
	Exists(ctx context.Context, txID string) (bool, error)
	Count(ctx context.Context) (int64, error)
	MaxBlockHeight(ctx context.Context) (uint64, error)
}

// CreatorStore defines persistence/lookup for creator identities.
type CreatorStore interface {
	GetByAddress(ctx context.Context, address string) (domain.Creator, error)
	HandleTaken(ctx context.Context, handle string) (bool, error)
	Save(ctx context.Context, c domain.Creator, blockHeight uint64) error
	Count(ctx context.Context) (int64, error)
	MaxBlockHeight(ctx context.Context) (uint64, error)
}

// OrganizationStore defines persistence/lookup for organizations.
type OrganizationStore interface {
	Get(ctx context.Context, did string) (domain.Organization, error)
	Save(ctx context.Context, org domain.Organization, blockHeight uint64) error
	Delete(ctx context.Context, did string) error
	Count(ctx context.Context) (int64, error)
	MaxBlockHeight(ctx context.Context) (uint64, error)
}

// LedgerSource is the scanner-facing slice of the ledger gateway.
type LedgerSource interface {
	FetchSince(ctx context.Context, minBlock uint64) ([]string, error)
	GetTransaction(ctx context.Context, txid string) (ledgerdex.Transaction, error)
}

// Announcer publishes indexed-record events to interested listeners.
type Announcer interface {
	AnnounceIndexed(ctx context.Context, rec domain.Record)
}
