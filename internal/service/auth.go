package service

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/openindexlabs/ledgerdex"
	"github.com/openindexlabs/ledgerdex/internal/domain"
	"github.com/openindexlabs/ledgerdex/jwt"
)

var tracer = otel.Tracer("auth")

// UserResolver looks up a requester identity the external auth surface has
// registered. We only ever read; registration happens elsewhere.
type UserResolver interface {
	GetByPublicKey(ctx context.Context, publicKey string) (domain.User, error)
}

// AuthService resolves requester tokens into the identity the access
// evaluator compares against record owners.
type AuthService struct {
	users UserResolver
}

func NewAuthService(users UserResolver) *AuthService {
	return &AuthService{users: users}
}

// AuthResult is the requester identity established from a valid token.
type AuthResult struct {
	Address   string
	PublicKey string
	Handle    string
}

// AuthToken validates a requester JWT and returns the recovered identity.
func (s *AuthService) AuthToken(ctx context.Context, token string) (*AuthResult, error) {
	ctx, span := tracer.Start(ctx, "Auth.Service.AuthToken")
	defer span.End()

	_, claims, publicKey, err := jwt.Validate(token)
	if err != nil {
		span.RecordError(errors.Wrap(err, "jwt validation failed"))
		return nil, err
	}

	if claims.Subject != "ledgerdex" {
		err := errors.New("invalid subject")
		span.RecordError(err)
		return nil, err
	}

	// sanity check: the claimed issuer must derive from the recovered key
	addr, err := ledgerdex.PubKeyToAddr(publicKey, ledgerdex.AddressPrefix)
	if err != nil || addr != claims.Issuer {
		err := errors.New("issuer does not match the signing key")
		span.RecordError(err)
		return nil, err
	}

	result := &AuthResult{Address: claims.Issuer, PublicKey: publicKey}

	// handle is best-effort; unknown keys are still valid requesters
	if s.users != nil {
		if user, err := s.users.GetByPublicKey(ctx, publicKey); err == nil {
			result.Handle = user.Handle
		}
	}

	return result, nil
}
