package timeline

import "encoding/json"

// ItemType discriminates the body of a timeline item.
type ItemType string

const (
	TypeMessage     ItemType = "message"
	TypeTransaction ItemType = "transaction"
)

// SyncStatus tracks whether the sync worker still owes the server a push.
type SyncStatus string

const (
	SyncPending   SyncStatus = "pending"
	SyncSynced    SyncStatus = "synced"
	SyncCancelled SyncStatus = "cancelled"
)

// LocalStatus is the finer-grained, UI-facing status.
type LocalStatus string

const (
	LocalPending   LocalStatus = "pending"
	LocalSent      LocalStatus = "sent"
	LocalDelivered LocalStatus = "delivered"
	LocalFailed    LocalStatus = "failed"
	LocalCancelled LocalStatus = "cancelled"
)

// Body is the variant part of an Item: either *Message or *Transaction.
type Body interface {
	Type() ItemType
}

// Message is the body of a chat message.
type Message struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
}

// Type implements Body.
func (*Message) Type() ItemType { return TypeMessage }

// Transaction is the body of a wallet transfer.
type Transaction struct {
	Amount          float64 `json:"amount"`
	CurrencyID      string  `json:"currency_id"`
	CurrencyCode    string  `json:"currency_code"`
	CurrencySymbol  string  `json:"currency_symbol"`
	TransactionType string  `json:"transaction_type"`
	FromWalletID    string  `json:"from_wallet_id"`
	ToWalletID      *string `json:"to_wallet_id,omitempty"`
}

// Type implements Body.
func (*Transaction) Type() ItemType { return TypeTransaction }

// Item is one unit of outbox work. The envelope fields are shared; Body
// carries exactly one of the message or transaction field groups.
type Item struct {
	// ID is client-generated: <kind-prefix>_<epoch-millis>_<random-suffix>
	ID string `json:"id"`

	// ServerID is set once the remote system acknowledges the item
	ServerID *string `json:"server_id,omitempty"`

	InteractionID string  `json:"interaction_id"`
	ProfileID     string  `json:"profile_id"`
	FromEntityID  string  `json:"from_entity_id"`
	ToEntityID    *string `json:"to_entity_id,omitempty"`

	SyncStatus  SyncStatus  `json:"sync_status"`
	LocalStatus LocalStatus `json:"local_status"`

	RetryCount int     `json:"retry_count"`
	LastError  *string `json:"last_error,omitempty"`

	// NextAttemptAt is the earliest unix-millis time the sync worker retries (nullable)
	NextAttemptAt *int64 `json:"next_attempt_at,omitempty"`

	// Metadata is caller-supplied context, stored verbatim and never interpreted
	Metadata json.RawMessage `json:"timeline_metadata,omitempty"`

	// CreatedAt and UpdatedAt are unix millis
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`

	Body Body `json:"-"`
}

// Type returns the item kind, or "" when the body is missing.
func (i *Item) Type() ItemType {
	if i.Body == nil {
		return ""
	}
	return i.Body.Type()
}

// Message returns the message body when the item is a message.
func (i *Item) Message() (*Message, bool) {
	m, ok := i.Body.(*Message)
	return m, ok
}

// Transaction returns the transaction body when the item is a transaction.
func (i *Item) Transaction() (*Transaction, bool) {
	tx, ok := i.Body.(*Transaction)
	return tx, ok
}

// MarshalJSON flattens the body into the envelope with an item_type tag.
func (i Item) MarshalJSON() ([]byte, error) {
	type envelope Item
	out := struct {
		envelope
		ItemType    ItemType     `json:"item_type"`
		Message     *Message     `json:"message,omitempty"`
		Transaction *Transaction `json:"transaction,omitempty"`
	}{envelope: envelope(i), ItemType: i.Type()}

	switch b := i.Body.(type) {
	case *Message:
		out.Message = b
	case *Transaction:
		out.Transaction = b
	}
	return json.Marshal(out)
}

// Terminal reports whether no further sync action will be taken.
func (s SyncStatus) Terminal() bool {
	return s == SyncSynced || s == SyncCancelled
}

// Valid reports whether s is a known sync status.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncPending, SyncSynced, SyncCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known local status.
func (s LocalStatus) Valid() bool {
	switch s {
	case LocalPending, LocalSent, LocalDelivered, LocalFailed, LocalCancelled:
		return true
	}
	return false
}

// Consistent reports whether a (sync, local) status pair may be stored together.
func Consistent(sync SyncStatus, local LocalStatus) bool {
	switch sync {
	case SyncPending:
		return local == LocalPending || local == LocalFailed
	case SyncSynced:
		return local == LocalSent || local == LocalDelivered || local == LocalCancelled
	case SyncCancelled:
		return local == LocalCancelled
	}
	return false
}

// CanTransition reports whether sync status may move from one value to another.
// Terminal statuses never return to pending; repeating the current status is allowed.
func CanTransition(from, to SyncStatus) bool {
	if from == to {
		return true
	}
	return from == SyncPending && to.Terminal()
}
