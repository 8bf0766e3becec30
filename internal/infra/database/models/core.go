package models

import (
	"time"
)

// Record is the persisted form of an indexed ledger record. Data and
// TemplatesUsed are stored as JSON text; the repository layer converts to
// and from domain types.
type Record struct {
	DID              string    `json:"did" gorm:"primaryKey;type:text"`
	RecordType       string    `json:"recordType" gorm:"type:text;index"`
	Data             string    `json:"data" gorm:"type:text"`
	TemplatesUsed    string    `json:"templatesUsed" gorm:"type:text"`
	CreatorHandle    string    `json:"creatorHandle" gorm:"type:text;index"`
	CreatorAddress   string    `json:"creatorAddress" gorm:"type:text;index"`
	CreatorDID       string    `json:"creatorDid" gorm:"type:text"`
	CreatorPublicKey string    `json:"creatorPublicKey" gorm:"type:text"`
	BlockHeight      uint64    `json:"blockHeight" gorm:"index"`
	IndexedAt        time.Time `json:"indexedAt" gorm:"type:timestamp with time zone;not null;default:clock_timestamp()"`
	ProtocolVersion  string    `json:"protocolVersion" gorm:"type:text"`
	Signature        string    `json:"signature" gorm:"type:text"`
	Status           string    `json:"status" gorm:"type:text;index"`
}

// Template stores a schema row. Fields and EnumValues are JSON text.
type Template struct {
	TxID           string    `json:"txId" gorm:"primaryKey;type:text"`
	Name           string    `json:"name" gorm:"type:text;index"`
	Fields         string    `json:"fields" gorm:"type:text"`
	EnumValues     string    `json:"enumValues" gorm:"type:text"`
	CreatorAddress string    `json:"creatorAddress" gorm:"type:text;index"`
	BlockHeight    uint64    `json:"blockHeight"`
	Status         string    `json:"status" gorm:"type:text"`
	CDate          time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}

// User is a requester identity. Rows are written by the external auth
// surface; the index only reads them.
type User struct {
	PublicKey string    `json:"publicKey" gorm:"primaryKey;type:text"`
	Handle    string    `json:"handle" gorm:"type:text;index"`
	CDate     time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}

// Creator maps a signer address to a public handle and key. Handles are
// unique; collisions are auto-suffixed by the identity registry.
type Creator struct {
	Handle      string    `json:"handle" gorm:"primaryKey;type:text"`
	Address     string    `json:"address" gorm:"type:text;uniqueIndex"`
	DID         string    `json:"did" gorm:"type:text;index"`
	PublicKey   string    `json:"publicKey" gorm:"type:text"`
	BlockHeight uint64    `json:"blockHeight"`
	CDate       time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}

// Organization is a DID-keyed multi-member identity.
type Organization struct {
	DID              string    `json:"did" gorm:"primaryKey;type:text"`
	Handle           string    `json:"handle" gorm:"type:text;index"`
	PublicKey        string    `json:"publicKey" gorm:"type:text"`
	AdminPublicKeys  string    `json:"adminPublicKeys" gorm:"type:text"`
	MembershipPolicy string    `json:"membershipPolicy" gorm:"type:text"`
	Metadata         string    `json:"metadata" gorm:"type:text"`
	CreatorAddress   string    `json:"creatorAddress" gorm:"type:text"`
	BlockHeight      uint64    `json:"blockHeight"`
	CDate            time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}
