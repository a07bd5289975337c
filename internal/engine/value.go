// Package engine resolves application credentials and usage deltas for one
// request against the declarative policy model.
//
// A resolution pass is synchronous and owns all of its intermediate state;
// the policy tree it interprets is shared read-only.
package engine

import (
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alechenninger/tollgate/internal/pairs"
)

// ValueKind discriminates the Value variants.
type ValueKind int

const (
	KindBytes ValueKind = iota
	KindString
	KindJSON
	KindStruct
	KindPairs
)

func (k ValueKind) String() string {
	switch k {
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	case KindJSON:
		return "json"
	case KindStruct:
		return "struct"
	case KindPairs:
		return "pairs"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is an in-flight credential value passing through the operation
// pipeline. The variant set is closed; use the constructors.
type Value struct {
	kind    ValueKind
	bytes   []byte
	str     string
	json    any
	structv *structpb.Struct
	pairsv  pairs.Pairs
}

// BytesValue wraps raw bytes.
func BytesValue(b []byte) Value { return Value{kind: KindBytes, bytes: b} }

// StringValue wraps a UTF-8 string.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// JSONValue wraps a parsed JSON value (any of the encoding/json shapes).
func JSONValue(v any) Value { return Value{kind: KindJSON, json: v} }

// StructValue wraps a parsed protobuf Struct-shaped map.
func StructValue(s *structpb.Struct) Value { return Value{kind: KindStruct, structv: s} }

// PairsValue wraps a decoded pairs blob.
func PairsValue(p pairs.Pairs) Value { return Value{kind: KindPairs, pairsv: p} }

// Kind returns the variant tag.
func (v Value) Kind() ValueKind { return v.kind }

// AsBytes returns the byte form of the value. Only Bytes and String values
// have one; a false return signals a type mismatch to the interpreter.
func (v Value) AsBytes() ([]byte, bool) {
	switch v.kind {
	case KindBytes:
		return v.bytes, true
	case KindString:
		return []byte(v.str), true
	default:
		return nil, false
	}
}

// NoStringFormError reports a value variant with no defined projection to a
// final application-identifier string.
type NoStringFormError struct {
	Kind ValueKind
}

func (e *NoStringFormError) Error() string {
	return fmt.Sprintf("no string form for %s value", e.Kind)
}

// FinalString projects the value to the application identifier string.
//
// String is identity; Bytes must be valid UTF-8; JSON must be a string
// scalar. Struct and Pairs values have no defined string projection and fail
// with *NoStringFormError: a credential value must never silently collapse
// into an empty or guessed identifier. Pipelines ending in a container value
// need an explicit trailing lookup.
func (v Value) FinalString() (string, error) {
	switch v.kind {
	case KindString:
		return v.str, nil
	case KindBytes:
		if !utf8.Valid(v.bytes) {
			return "", fmt.Errorf("credential bytes are not valid UTF-8")
		}
		return string(v.bytes), nil
	case KindJSON:
		if s, ok := v.json.(string); ok {
			return s, nil
		}
		return "", &NoStringFormError{Kind: v.kind}
	default:
		return "", &NoStringFormError{Kind: v.kind}
	}
}
