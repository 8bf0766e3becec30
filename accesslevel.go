package ledgerdex

// AccessLevel is the visibility class of a record. The legacy boolean
// is_private flag is folded into AccessPrivate at the ingestion boundary so
// the query engine only ever sees one representation.
type AccessLevel string

const (
	AccessPublic       AccessLevel = "public"
	AccessPrivate      AccessLevel = "private"
	AccessOrganization AccessLevel = "organization"
	AccessShared       AccessLevel = "shared"
)

// AccessMeta is the access-control information embedded in a record's data.
type AccessMeta struct {
	Level          AccessLevel `json:"access_level"`
	OwnerPublicKey string      `json:"owner_public_key"`
	SharedWith     []string    `json:"shared_with"`
}

// ParseAccessMeta extracts access-control metadata from decoded record data.
// Records without an accessControl block (or with an unknown level) are
// public. is_private=true is an alias for access_level=private and only
// applies when no explicit level is present.
func ParseAccessMeta(data map[string]map[string]any) AccessMeta {
	meta := AccessMeta{Level: AccessPublic}

	ac, ok := data["accessControl"]
	if !ok {
		return meta
	}

	switch AccessLevel(AsString(ac["access_level"])) {
	case AccessPrivate:
		meta.Level = AccessPrivate
	case AccessOrganization:
		meta.Level = AccessOrganization
	case AccessShared:
		meta.Level = AccessShared
	case AccessPublic:
		meta.Level = AccessPublic
	default:
		if b, ok := ac["is_private"].(bool); ok && b {
			meta.Level = AccessPrivate
		}
	}

	meta.OwnerPublicKey = AsString(ac["owner_public_key"])
	meta.SharedWith = AsStringSlice(ac["shared_with"])
	return meta
}
