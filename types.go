package ledgerdex

// Tag is a name/value pair attached to a ledger transaction. The scanner
// filters on tags; the indexer routes on them.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Tuple is one template-tagged positional value list inside a transaction
// payload. A transaction may carry several tuples (e.g. basic + recipe),
// each decoded through its own template.
type Tuple struct {
	Template string `json:"template"`
	Values   []any  `json:"values"`
}

// Transaction is the per-transaction view returned by the ledger fetch
// interface: tag set, raw payload, signer, block height, version, signature.
type Transaction struct {
	ID              string  `json:"id"`
	Tags            []Tag   `json:"tags"`
	Payload         []Tuple `json:"payload"`
	RawPayload      []byte  `json:"-"`
	SignerAddress   string  `json:"signerAddress"`
	BlockHeight     uint64  `json:"blockHeight"`
	ProtocolVersion string  `json:"protocolVersion"`
	Signature       string  `json:"signature"`
}

// Tag returns the value of the first tag with the given name, or "".
func (t Transaction) Tag(name string) string {
	for _, tag := range t.Tags {
		if tag.Name == name {
			return tag.Value
		}
	}
	return ""
}

// Well-known tag names.
const (
	TagIndexMethod     = "Index-Method"
	TagProtocolVersion = "Ver"
	TagRecordType      = "Record-Type"
	TagTemplateName    = "Template-Name"
)

// Record types with dedicated routing in the indexer. Everything else is a
// generic record subject to the inclusion policy.
const (
	TypeCreatorRegistration = "creatorRegistration"
	TypeOrganization        = "organization"
	TypeDeleteMessage       = "deleteMessage"
	TypeTemplate            = "template"
)

// RecordStatus tracks confirmation state. Transitions only ever advance:
// pendingConfirmation -> original, and deleted is terminal.
type RecordStatus string

const (
	StatusPending  RecordStatus = "pendingConfirmation"
	StatusOriginal RecordStatus = "original"
	StatusDeleted  RecordStatus = "deleted"
)

// Event is a realtime announcement published when the indexer touches a
// record. Consumed by websocket subscribers.
type Event struct {
	Channel    string       `json:"channel"`
	Action     string       `json:"action"`
	DID        string       `json:"did"`
	RecordType string       `json:"recordType"`
	Status     RecordStatus `json:"status"`
}

// DeleteMessage asks for removal of a record or template. It is honored only
// when the issuer address matches the target's original creator address.
type DeleteMessage struct {
	TargetDID     string `json:"didTx"`
	IssuerAddress string `json:"-"`
}
