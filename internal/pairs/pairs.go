// Package pairs implements the length-prefixed key/value binary encoding used
// for host-exposed structured metadata.
//
// Wire layout: a u32 pair count, then count (u32 keyLen, u32 valLen) headers,
// then the data section with each key and value NUL-terminated. The NUL bytes
// are redundant with the lengths but are part of the wire format and must be
// preserved for byte-exact compatibility with the host encoder. All integers
// are 32-bit little-endian.
//
// The buffer originates from host-supplied, potentially attacker-influenced
// metadata, so every length read is validated against the remaining buffer
// before use.
package pairs

import (
	"encoding/binary"
	"fmt"
	"math"
)

const u32Size = 4

// RequiredImpossible is the shortfall reported when a length requirement
// cannot be represented; callers cannot satisfy it by supplying more bytes.
const RequiredImpossible = math.MaxInt

// Pair is one key/value entry.
type Pair struct {
	Key   string
	Value string
}

// Pairs is an ordered key/value sequence.
type Pairs []Pair

// Get returns the value of the first pair with the given key.
func (p Pairs) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// LengthError reports that a buffer was too short. Required is the minimum
// number of additional bytes needed; the requirement can grow as more of the
// buffer becomes parseable, so callers should supply at least Required more
// bytes and retry.
type LengthError struct {
	Required int
}

func (e *LengthError) Error() string {
	if e.Required == RequiredImpossible {
		return "pairs: length requirement not representable"
	}
	return fmt.Sprintf("pairs: buffer short by %d bytes", e.Required)
}

// RequiredLength returns the exact encoded size of p, or false if the size
// overflows.
func RequiredLength(p Pairs) (int, bool) {
	// count word, then per pair: two length words, key and value bytes,
	// and two NUL terminators.
	total := uint64(u32Size)
	for _, kv := range p {
		total += uint64(2*u32Size) + uint64(len(kv.Key)) + uint64(len(kv.Value)) + 2
		if total > math.MaxInt {
			return 0, false
		}
	}
	return int(total), true
}

// Decode parses b into Pairs. On a short buffer it returns a *LengthError
// carrying the minimum additional byte count needed.
func Decode(b []byte) (Pairs, error) {
	if len(b) < u32Size {
		return nil, &LengthError{Required: u32Size - len(b)}
	}
	count := uint64(binary.LittleEndian.Uint32(b))

	// Headers plus, at minimum, one NUL per key and value.
	minRequired := uint64(u32Size) + count*(2*u32Size+2)
	if minRequired > math.MaxInt {
		return nil, &LengthError{Required: RequiredImpossible}
	}
	if uint64(len(b)) < minRequired {
		return nil, &LengthError{Required: int(minRequired) - len(b)}
	}

	type header struct{ keyLen, valLen uint64 }
	headers := make([]header, count)
	required := minRequired
	off := u32Size
	for i := range headers {
		keyLen := uint64(binary.LittleEndian.Uint32(b[off:]))
		valLen := uint64(binary.LittleEndian.Uint32(b[off+u32Size:]))
		off += 2 * u32Size
		headers[i] = header{keyLen: keyLen, valLen: valLen}
		required += keyLen + valLen
		if required > math.MaxInt {
			return nil, &LengthError{Required: RequiredImpossible}
		}
	}
	if uint64(len(b)) < required {
		return nil, &LengthError{Required: int(required) - len(b)}
	}

	out := make(Pairs, count)
	for i, h := range headers {
		key := b[off : off+int(h.keyLen)]
		off += int(h.keyLen) + 1 // skip NUL
		val := b[off : off+int(h.valLen)]
		off += int(h.valLen) + 1
		out[i] = Pair{Key: string(key), Value: string(val)}
	}
	return out, nil
}

// Encode serializes p into a freshly allocated, exactly sized buffer.
func Encode(p Pairs) ([]byte, error) {
	required, ok := RequiredLength(p)
	if !ok {
		return nil, &LengthError{Required: RequiredImpossible}
	}
	buf := make([]byte, required)
	if _, err := EncodeTo(p, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeTo serializes p into b, returning the number of bytes written. On a
// short buffer it returns a *LengthError with the exact shortfall.
func EncodeTo(p Pairs, b []byte) (int, error) {
	required, ok := RequiredLength(p)
	if !ok {
		return 0, &LengthError{Required: RequiredImpossible}
	}
	if len(b) < required {
		return 0, &LengthError{Required: required - len(b)}
	}

	binary.LittleEndian.PutUint32(b, uint32(len(p)))
	off := u32Size
	for _, kv := range p {
		binary.LittleEndian.PutUint32(b[off:], uint32(len(kv.Key)))
		binary.LittleEndian.PutUint32(b[off+u32Size:], uint32(len(kv.Value)))
		off += 2 * u32Size
	}
	for _, kv := range p {
		off += copy(b[off:], kv.Key)
		b[off] = 0
		off++
		off += copy(b[off:], kv.Value)
		b[off] = 0
		off++
	}
	return required, nil
}
