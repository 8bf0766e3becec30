package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/openindexlabs/ledgerdex"
	"github.com/openindexlabs/ledgerdex/internal/domain"
)

// Genesis identities. Both registries bootstrap from exactly one hardcoded
// registration when queried while empty, so a fresh mirror can always
// attribute the earliest ledger records.
var (
	genesisCreator = domain.Creator{
		Handle:    "genesis",
		Address:   "ldx1qqqsyqcyq5rqwzqfpg9scrgwpugpzysnrujsuw",
		DID:       "did:ldx:key:9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		PublicKey: "02c6047f9441ed7d6d3045406e95c07cd85c778e4b8cef3ca7abac09b95c709ee5",
	}

	genesisOrganization = domain.Organization{
		Handle:    "openindex",
		DID:       "did:ldx:key:60303ae22b998861bce3b28f33eec1be758a213c86c93c076dbe9f558c11c752",
		PublicKey: "02f9308a019258c31049344f85f89d5229b531c845836f99b08601f113bce036f9",
		AdminPublicKeys: []string{
			"02f9308a019258c31049344f85f89d5229b531c845836f99b08601f113bce036f9",
		},
		MembershipPolicy: "invite",
	}
)

type creatorRegistration struct {
	Handle    string `json:"handle"`
	PublicKey string `json:"publicKey"`
}

type organizationRegistration struct {
	Handle           string         `json:"handle"`
	PublicKey        string         `json:"publicKey"`
	AdminPublicKeys  []string       `json:"adminPublicKeys"`
	MembershipPolicy string         `json:"membershipPolicy"`
	Metadata         map[string]any `json:"metadata"`
}

// CreatorRegistry resolves signer addresses to creator identities and
// indexes registration transactions.
type CreatorRegistry struct {
	store CreatorStore
}

func NewCreatorRegistry(store CreatorStore) *CreatorRegistry {
	return &CreatorRegistry{store: store}
}

// Resolve returns the creator registered at address. An empty store is
// seeded with the genesis creator first, so attribution never dead-ends on a
// fresh mirror. An address with no registration is a NotFoundError; records
// signed by it are bad transactions and must not be indexed.
func (r *CreatorRegistry) Resolve(ctx context.Context, address string) (domain.Creator, error) {
	if err := r.bootstrap(ctx); err != nil {
		slog.Warn("creator bootstrap failed", "error", err)
	}

	return r.store.GetByAddress(ctx, address)
}

// Register indexes a creator-registration transaction. Handles are unique;
// a taken handle is auto-suffixed (-1, -2, ...) rather than rejected.
func (r *CreatorRegistry) Register(ctx context.Context, tx ledgerdex.Transaction) error {
	var reg creatorRegistration
	if err := json.Unmarshal(tx.RawPayload, &reg); err != nil {
		return errors.Wrap(err, "malformed creator registration")
	}
	if reg.Handle == "" || reg.PublicKey == "" {
		return errors.New("creator registration missing handle or public key")
	}

	handle, err := r.freeHandle(ctx, reg.Handle)
	if err != nil {
		return err
	}

	return r.store.Save(ctx, domain.Creator{
		Handle:    handle,
		Address:   tx.SignerAddress,
		DID:       ledgerdex.DIDFromPublicKey(reg.PublicKey),
		PublicKey: reg.PublicKey,
	}, tx.BlockHeight)
}

func (r *CreatorRegistry) freeHandle(ctx context.Context, want string) (string, error) {
	taken, err := r.store.HandleTaken(ctx, want)
	if err != nil {
		return "", err
	}
	if !taken {
		return want, nil
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d", want, i)
		taken, err := r.store.HandleTaken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
}

func (r *CreatorRegistry) bootstrap(ctx context.Context) error {
	n, err := r.store.Count(ctx)
	if err != nil || n > 0 {
		return err
	}
	slog.Info("seeding genesis creator", "handle", genesisCreator.Handle)
	return r.store.Save(ctx, genesisCreator, 0)
}

// OrganizationRegistry indexes organization registrations and serves
// membership-relevant lookups.
type OrganizationRegistry struct {
	store OrganizationStore
}

func NewOrganizationRegistry(store OrganizationStore) *OrganizationRegistry {
	return &OrganizationRegistry{store: store}
}

func (r *OrganizationRegistry) Get(ctx context.Context, did string) (domain.Organization, error) {
	if err := r.bootstrap(ctx); err != nil {
		slog.Warn("organization bootstrap failed", "error", err)
	}
	return r.store.Get(ctx, did)
}

// Register indexes an organization-registration transaction. Re-registration
// of an existing DID updates the mutable fields (admins, policy, metadata).
func (r *OrganizationRegistry) Register(ctx context.Context, tx ledgerdex.Transaction) error {
	var reg organizationRegistration
	if err := json.Unmarshal(tx.RawPayload, &reg); err != nil {
		return errors.Wrap(err, "malformed organization registration")
	}
	if reg.Handle == "" || reg.PublicKey == "" {
		return errors.New("organization registration missing handle or public key")
	}

	admins := reg.AdminPublicKeys
	if len(admins) == 0 {
		admins = []string{reg.PublicKey}
	}

	return r.store.Save(ctx, domain.Organization{
		Handle:           reg.Handle,
		DID:              ledgerdex.DIDFromPublicKey(reg.PublicKey),
		PublicKey:        reg.PublicKey,
		AdminPublicKeys:  admins,
		MembershipPolicy: reg.MembershipPolicy,
		Metadata:         reg.Metadata,
		CreatorAddress:   tx.SignerAddress,
	}, tx.BlockHeight)
}

// Remove drops an organization after verifying the issuer registered it.
func (r *OrganizationRegistry) Remove(ctx context.Context, did string, issuerAddress string) error {
	org, err := r.store.Get(ctx, did)
	if err != nil {
		return err
	}
	if org.CreatorAddress != issuerAddress {
		return domain.UnauthorizedError{Reason: "delete issuer did not register the organization"}
	}
	return r.store.Delete(ctx, did)
}

func (r *OrganizationRegistry) bootstrap(ctx context.Context) error {
	n, err := r.store.Count(ctx)
	if err != nil || n > 0 {
		return err
	}
	slog.Info("seeding genesis organization", "handle", genesisOrganization.Handle)
	return r.store.Save(ctx, genesisOrganization, 0)
}
