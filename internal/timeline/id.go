package timeline

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID prefixes per item kind.
const (
	PrefixMessage     = "msg"
	PrefixTransaction = "txn"
)

// Prefix returns the id prefix for an item kind.
func Prefix(kind ItemType) string {
	if kind == TypeTransaction {
		return PrefixTransaction
	}
	return PrefixMessage
}

// NewID generates a client id of the form <prefix>_<epoch-millis>_<suffix>.
// The suffix is the 16-character entropy part of a ULID, lowercased.
func NewID(kind ItemType, now time.Time) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return "", err
	}
	suffix := strings.ToLower(id.String()[10:])
	return fmt.Sprintf("%s_%d_%s", Prefix(kind), now.UnixMilli(), suffix), nil
}

// ParseID splits a client id into its kind and creation time.
func ParseID(id string) (ItemType, time.Time, error) {
	parts := strings.Split(id, "_")
	if len(parts) != 3 || parts[2] == "" {
		return "", time.Time{}, fmt.Errorf("malformed id %q", id)
	}

	var kind ItemType
	switch parts[0] {
	case PrefixMessage:
		kind = TypeMessage
	case PrefixTransaction:
		kind = TypeTransaction
	default:
		return "", time.Time{}, fmt.Errorf("unknown id prefix %q", parts[0])
	}

	ms, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("malformed id timestamp %q", parts[1])
	}
	return kind, time.UnixMilli(ms), nil
}
