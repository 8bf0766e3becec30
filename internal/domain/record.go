package domain

import (
	"time"

	"github.com/openindexlabs/ledgerdex"
)

// Creator is the resolved identity of a record signer.
type Creator struct {
	Handle    string `json:"handle"`
	Address   string `json:"address"`
	DID       string `json:"did"`
	PublicKey string `json:"publicKey"`
}

// Record is a fully decoded, indexed ledger record. Data maps template name
// to the decoded field set contributed by that template; TemplatesUsed maps
// template name to the template's transaction id.
type Record struct {
	DID             string                    `json:"did"`
	RecordType      string                    `json:"recordType"`
	Data            map[string]map[string]any `json:"data"`
	TemplatesUsed   map[string]string         `json:"templatesUsed"`
	Creator         Creator                   `json:"creator"`
	BlockHeight     uint64                    `json:"blockHeight"`
	IndexedAt       time.Time                 `json:"indexedAt"`
	ProtocolVersion string                    `json:"protocolVersion"`
	Signature       string                    `json:"signature"`
	Status          ledgerdex.RecordStatus    `json:"status"`
}

// Field looks up a named field across all templates of the record, checking
// the basic template first. Returns nil when absent.
func (r Record) Field(name string) any {
	if basic, ok := r.Data["basic"]; ok {
		if v, ok := basic[name]; ok {
			return v
		}
	}
	for _, fields := range r.Data {
		if v, ok := fields[name]; ok {
			return v
		}
	}
	return nil
}

// Name returns the record's display name, or "" when it has none.
func (r Record) Name() string {
	return ledgerdex.AsString(r.Field("name"))
}

// Description returns the record's description field.
func (r Record) Description() string {
	return ledgerdex.AsString(r.Field("description"))
}

// Tags returns the record's tagItems list.
func (r Record) Tags() []string {
	return ledgerdex.AsStringSlice(r.Field("tagItems"))
}

// Access returns the record's unified access-control metadata.
func (r Record) Access() ledgerdex.AccessMeta {
	return ledgerdex.ParseAccessMeta(r.Data)
}

// FieldDef describes one template field: its wire type and its position in
// the transaction tuple.
type FieldDef struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// Template is a schema mapping field names to positional indices and enum
// value tables. Immutable once confirmed.
type Template struct {
	TxID           string                 `json:"txId"`
	Name           string                 `json:"name"`
	Fields         map[string]FieldDef    `json:"fields"`
	EnumValues     map[string][]string    `json:"enumValues"`
	CreatorAddress string                 `json:"creatorAddress"`
	Status         ledgerdex.RecordStatus `json:"status"`
}

// User is a requester identity registered by the external auth surface. The
// index only reads public keys and handles.
type User struct {
	PublicKey string `json:"publicKey"`
	Handle    string `json:"handle"`
}

// Organization is a multi-member identity that records may be shared with.
type Organization struct {
	Handle           string         `json:"handle"`
	DID              string         `json:"did"`
	PublicKey        string         `json:"publicKey"`
	AdminPublicKeys  []string       `json:"adminPublicKeys"`
	MembershipPolicy string         `json:"membershipPolicy"`
	Metadata         map[string]any `json:"metadata"`
	CreatorAddress   string         `json:"-"`
}
