package macaroon

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
)

// TagSize is the macaroon's fixed MAC tag length (spec.md §3).
const TagSize = 16

// Macaroon is a capability token: a fixed-size tag plus the ordered
// caveat chain it commits to.
type Macaroon struct {
	Tag     [TagSize]byte
	Caveats []Caveat
}

func hmacStep(key []byte, c Caveat) [TagSize]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(c.Encode())
	mac.Write([]byte(ctxString(c.Type)))
	full := mac.Sum(nil)
	var tag [TagSize]byte
	copy(tag[:], full[:TagSize])
	return tag
}

// NewFromRootKey produces a token whose tag is the HMAC chain over
// caveats, keyed initially by rootKey: spec.md §3's
// HMAC_chain(k, [c0,...,cn]) = HMAC(HMAC(...HMAC(k,c0)...), cn).
func NewFromRootKey(rootKey []byte, caveats []Caveat) Macaroon {
	key := rootKey
	var tag [TagSize]byte
	for _, c := range caveats {
		tag = hmacStep(key, c)
		key = tag[:]
	}
	return Macaroon{Tag: tag, Caveats: append([]Caveat(nil), caveats...)}
}

// Extend appends caveat, re-keying the HMAC chain with the macaroon's
// previous tag.
func Extend(m Macaroon, caveat Caveat) Macaroon {
	newTag := hmacStep(m.Tag[:], caveat)
	return Macaroon{
		Tag:     newTag,
		Caveats: append(append([]Caveat(nil), m.Caveats...), caveat),
	}
}

// Verify recomputes the HMAC chain from rootKey over m's caveats and
// compares tags in constant time.
func Verify(m Macaroon, rootKey []byte) bool {
	recomputed := NewFromRootKey(rootKey, m.Caveats)
	return hmac.Equal(recomputed.Tag[:], m.Tag[:])
}

// Serialize renders the token on the wire as the CBOR array
// [tag_bytes, [caveat_bytes, ...]].
func Serialize(m Macaroon) []byte {
	out := encodeArrayHeader(2)
	out = append(out, encodeBytes(m.Tag[:])...)
	out = append(out, encodeArrayHeader(len(m.Caveats))...)
	for _, c := range m.Caveats {
		out = append(out, encodeBytes(c.Encode())...)
	}
	return out
}

// Parse decodes a serialized token.
func Parse(data []byte) (Macaroon, error) {
	n, rest, err := decodeArrayHeader(data)
	if err != nil {
		return Macaroon{}, fmt.Errorf("macaroon: parse outer array: %w", err)
	}
	if n != 2 {
		return Macaroon{}, fmt.Errorf("macaroon: expected 2-element outer array, got %d", n)
	}

	tagBytes, rest, err := decodeBytes(rest)
	if err != nil {
		return Macaroon{}, fmt.Errorf("macaroon: parse tag: %w", err)
	}
	if len(tagBytes) != TagSize {
		return Macaroon{}, fmt.Errorf("macaroon: tag must be %d bytes, got %d", TagSize, len(tagBytes))
	}

	count, rest, err := decodeArrayHeader(rest)
	if err != nil {
		return Macaroon{}, fmt.Errorf("macaroon: parse caveat array: %w", err)
	}

	caveats := make([]Caveat, 0, count)
	for i := 0; i < count; i++ {
		var raw []byte
		raw, rest, err = decodeBytes(rest)
		if err != nil {
			return Macaroon{}, fmt.Errorf("macaroon: parse caveat %d: %w", i, err)
		}
		c, err := decodeCaveat(raw)
		if err != nil {
			return Macaroon{}, fmt.Errorf("macaroon: decode caveat %d: %w", i, err)
		}
		caveats = append(caveats, c)
	}

	var m Macaroon
	copy(m.Tag[:], tagBytes)
	m.Caveats = caveats
	return m, nil
}

// Find returns the first caveat of the given type, if any.
func (m Macaroon) Find(t CaveatType) (Caveat, bool) {
	for _, c := range m.Caveats {
		if c.Type == t {
			return c, true
		}
	}
	return Caveat{}, false
}
