package macaroon

import (
	"fmt"
	"time"

	"github.com/weaveproject/weave/pkg/authscope"
)

// CaveatType is one of the recognized caveat kinds (spec.md §3).
type CaveatType uint32

const (
	CaveatStop              CaveatType = 0
	CaveatScope             CaveatType = 1
	CaveatIdentifier        CaveatType = 2
	CaveatIssued            CaveatType = 3
	CaveatTTL               CaveatType = 4
	CaveatExpiration        CaveatType = 5
	CaveatSessionIdentifier CaveatType = 16
)

// Caveat is a typed restriction appended to a macaroon. Value holds the
// already CBOR-encoded payload so Encode can just concatenate the type
// header with it, matching spec.md's "uint(type) || encoded(value)".
type Caveat struct {
	Type  CaveatType
	Value []byte
}

// Encode renders the caveat as "uint(type) || encoded(value)".
func (c Caveat) Encode() []byte {
	return append(encodeUint(uint64(c.Type)), c.Value...)
}

// ctxString is the per-caveat-type HMAC context string spec.md §3
// calls for. Every type is currently empty except SessionIdentifier,
// which is reserved for future binding to the active pairing session
// but not yet populated.
func ctxString(t CaveatType) string {
	return ""
}

func decodeCaveat(data []byte) (Caveat, error) {
	typ, rest, err := decodeUint(data)
	if err != nil {
		return Caveat{}, fmt.Errorf("macaroon: decode caveat type: %w", err)
	}
	return Caveat{Type: CaveatType(typ), Value: rest}, nil
}

// NewStopCaveat creates a caveat that halts further delegation
// (carries no value).
func NewStopCaveat() Caveat {
	return Caveat{Type: CaveatStop, Value: encodeBytes(nil)}
}

// NewScopeCaveat restricts the token to at most scope.
func NewScopeCaveat(scope authscope.Scope) Caveat {
	return Caveat{Type: CaveatScope, Value: encodeText(scope.String())}
}

// AsScope decodes a Scope caveat's value.
func (c Caveat) AsScope() (authscope.Scope, error) {
	s, _, err := decodeText(c.Value)
	if err != nil {
		return authscope.None, err
	}
	return authscope.ParseScope(s)
}

// NewIdentifierCaveat binds the token to a user or app identifier.
func NewIdentifierCaveat(id string) Caveat {
	return Caveat{Type: CaveatIdentifier, Value: encodeText(id)}
}

// NewSessionIdentifierCaveat binds the token to a pairing session.
func NewSessionIdentifierCaveat(sessionID string) Caveat {
	return Caveat{Type: CaveatSessionIdentifier, Value: encodeText(sessionID)}
}

// AsString decodes a text-valued caveat (Identifier, SessionIdentifier).
func (c Caveat) AsString() (string, error) {
	s, _, err := decodeText(c.Value)
	return s, err
}

// NewIssuedCaveat records the token's issuance time.
func NewIssuedCaveat(t time.Time) Caveat {
	return Caveat{Type: CaveatIssued, Value: encodeUint(uint64(t.Unix()))}
}

// NewExpirationCaveat records an absolute expiration time.
func NewExpirationCaveat(t time.Time) Caveat {
	return Caveat{Type: CaveatExpiration, Value: encodeUint(uint64(t.Unix()))}
}

// AsTime decodes a Unix-timestamp-valued caveat (Issued, Expiration).
func (c Caveat) AsTime() (time.Time, error) {
	v, _, err := decodeUint(c.Value)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(v), 0), nil
}

// NewTTLCaveat records a relative time-to-live in seconds.
func NewTTLCaveat(d time.Duration) Caveat {
	return Caveat{Type: CaveatTTL, Value: encodeUint(uint64(d.Seconds()))}
}

// AsDuration decodes a seconds-valued caveat (TTL).
func (c Caveat) AsDuration() (time.Duration, error) {
	v, _, err := decodeUint(c.Value)
	if err != nil {
		return 0, err
	}
	return time.Duration(v) * time.Second, nil
}
