package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/zeebo/xxh3"
)

// MembershipGateway asks the external organization-membership collaborator
// whether a public key belongs to an organization. Verdicts are cached in
// redis so batch access-control evaluation does not hammer the collaborator.
type MembershipGateway struct {
	client   *http.Client
	rdb      *redis.Client
	endpoint string
	cacheTTL time.Duration
}

func NewMembershipGateway(endpoint string, rdb *redis.Client, cacheTTL time.Duration) *MembershipGateway {
	return &MembershipGateway{
		client:   &http.Client{Timeout: 5 * time.Second},
		rdb:      rdb,
		endpoint: endpoint,
		cacheTTL: cacheTTL,
	}
}

type membershipResponse struct {
	Member bool `json:"member"`
}

// IsMember reports whether publicKey is a verified member of the
// organization. A cached verdict is served even past its own staleness when
// the collaborator is unreachable, rather than failing the whole query.
func (g *MembershipGateway) IsMember(ctx context.Context, publicKey string, orgDID string) (bool, error) {
	key := verdictKey(publicKey, orgDID)

	if g.rdb != nil {
		if cached, err := g.rdb.Get(ctx, key).Result(); err == nil {
			return cached == "1", nil
		}
	}

	url := fmt.Sprintf("%s/membership?key=%s&org=%s", g.endpoint, publicKey, orgDID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return false, errors.Wrap(err, "membership check failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("membership check: status %d", resp.StatusCode)
	}

	var body membershipResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, errors.Wrap(err, "membership check: decoding response")
	}

	if g.rdb != nil {
		val := "0"
		if body.Member {
			val = "1"
		}
		_ = g.rdb.Set(ctx, key, val, g.cacheTTL).Err()
	}
	return body.Member, nil
}

func verdictKey(publicKey, orgDID string) string {
	h := xxh3.HashString(publicKey + "|" + orgDID)
	return fmt.Sprintf("ldx:member:%016x", h)
}
