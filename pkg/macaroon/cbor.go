// Package macaroon implements the HMAC-chained capability token from
// spec.md §4.4: a fixed-size tag plus an ordered caveat chain, encoded
// on the wire through a small CBOR subset, plus the separate
// access-token scheme spec.md §4.4 also defines.
//
// No CBOR, macaroon, or PASETO-style token library appears anywhere in
// the example corpus (checked other_examples/ too) — this is the
// second module, alongside pkg/schema's validator, with no corpus
// library to ground on, so the codec and chain are hand-written
// against crypto/hmac and crypto/sha256, with the CBOR headers packed
// byte by byte, matching the
// byte-careful style the teacher uses in pkg/relay/mtls.go for
// certificate-fingerprint hashing.
package macaroon

import (
	"errors"
)

// CBOR-subset codec: unsigned integers (<=32-bit), byte strings, text
// strings, and array headers, each with a big-endian length/value
// prefix following CBOR's major-type/additional-info encoding rules
// (RFC 8949 §3) — the four item kinds spec.md §4.4 calls for, nothing
// more.
const (
	majorUint  = 0
	majorBytes = 2
	majorText  = 3
	majorArray = 4
)

var errTruncated = errors.New("macaroon: truncated CBOR item")
var errUnsupported = errors.New("macaroon: unsupported CBOR encoding")

func encodeHeader(major byte, value uint64) []byte {
	prefix := major << 5
	switch {
	case value < 24:
		return []byte{prefix | byte(value)}
	case value <= 0xff:
		return []byte{prefix | 24, byte(value)}
	case value <= 0xffff:
		return []byte{prefix | 25, byte(value >> 8), byte(value)}
	default:
		return []byte{
			prefix | 26,
			byte(value >> 24), byte(value >> 16), byte(value >> 8), byte(value),
		}
	}
}

func decodeHeader(data []byte) (major byte, value uint64, rest []byte, err error) {
	if len(data) == 0 {
		return 0, 0, nil, errTruncated
	}
	major = data[0] >> 5
	ai := data[0] & 0x1f
	data = data[1:]
	switch {
	case ai < 24:
		return major, uint64(ai), data, nil
	case ai == 24:
		if len(data) < 1 {
			return 0, 0, nil, errTruncated
		}
		return major, uint64(data[0]), data[1:], nil
	case ai == 25:
		if len(data) < 2 {
			return 0, 0, nil, errTruncated
		}
		return major, uint64(data[0])<<8 | uint64(data[1]), data[2:], nil
	case ai == 26:
		if len(data) < 4 {
			return 0, 0, nil, errTruncated
		}
		v := uint64(data[0])<<24 | uint64(data[1])<<16 | uint64(data[2])<<8 | uint64(data[3])
		return major, v, data[4:], nil
	default:
		return 0, 0, nil, errUnsupported
	}
}

func encodeUint(v uint64) []byte {
	return encodeHeader(majorUint, v)
}

func decodeUint(data []byte) (uint64, []byte, error) {
	major, v, rest, err := decodeHeader(data)
	if err != nil {
		return 0, nil, err
	}
	if major != majorUint {
		return 0, nil, errUnsupported
	}
	return v, rest, nil
}

func encodeBytes(b []byte) []byte {
	out := encodeHeader(majorBytes, uint64(len(b)))
	return append(out, b...)
}

func decodeBytes(data []byte) ([]byte, []byte, error) {
	major, n, rest, err := decodeHeader(data)
	if err != nil {
		return nil, nil, err
	}
	if major != majorBytes {
		return nil, nil, errUnsupported
	}
	if uint64(len(rest)) < n {
		return nil, nil, errTruncated
	}
	return rest[:n], rest[n:], nil
}

func encodeText(s string) []byte {
	out := encodeHeader(majorText, uint64(len(s)))
	return append(out, s...)
}

func decodeText(data []byte) (string, []byte, error) {
	major, n, rest, err := decodeHeader(data)
	if err != nil {
		return "", nil, err
	}
	if major != majorText {
		return "", nil, errUnsupported
	}
	if uint64(len(rest)) < n {
		return "", nil, errTruncated
	}
	return string(rest[:n]), rest[n:], nil
}

func encodeArrayHeader(n int) []byte {
	return encodeHeader(majorArray, uint64(n))
}

func decodeArrayHeader(data []byte) (int, []byte, error) {
	major, n, rest, err := decodeHeader(data)
	if err != nil {
		return 0, nil, err
	}
	if major != majorArray {
		return 0, nil, errUnsupported
	}
	return int(n), rest, nil
}
