package engine

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alechenninger/tollgate/internal/pairs"
	"github.com/alechenninger/tollgate/internal/policy"
)

// Errors produced while evaluating an operation pipeline. They are
// eliminative: a failing pipeline only disqualifies one location candidate.
var (
	// ErrTypeMismatch means an operation was applied to a value variant it
	// is not defined over (e.g. decoding a parsed container).
	ErrTypeMismatch = fmt.Errorf("type mismatch, can only decode strings or bytes")

	// ErrLookupMismatch means a lookup selector did not match the current
	// value (absent key, out-of-bounds index, or a non-container value).
	ErrLookupMismatch = fmt.Errorf("can only look up objects, lists or pairs")
)

// DecodeError wraps a failure of one decode step.
type DecodeError struct {
	Kind policy.DecodeKind
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("error decoding %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// MultiError collects the failures of every branch of an Or operation, one
// entry per child, preserved for diagnostics.
type MultiError struct {
	Errs []error
}

func (e *MultiError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("all alternatives failed: %s", strings.Join(msgs, "; "))
}

// Apply evaluates a single operation against v, producing a new value.
// Evaluation is pure: the same value and operation always yield the same
// result.
func Apply(v Value, op policy.Operation) (Value, error) {
	switch op := op.(type) {
	case policy.Decode:
		return applyDecode(v, op.Kind)
	case policy.Lookup:
		return applyLookup(v, op)
	case policy.And:
		return ApplyAll(v, op.Ops)
	case policy.Or:
		errs := make([]error, 0, len(op.Ops))
		for _, child := range op.Ops {
			out, err := Apply(v, child)
			if err == nil {
				return out, nil
			}
			errs = append(errs, err)
		}
		return Value{}, &MultiError{Errs: errs}
	default:
		return Value{}, fmt.Errorf("unknown operation %T", op)
	}
}

// ApplyAll threads v through ops left to right, failing fast on the first
// error. An empty pipeline is the identity.
func ApplyAll(v Value, ops []policy.Operation) (Value, error) {
	cur := v
	for _, op := range ops {
		next, err := Apply(cur, op)
		if err != nil {
			return Value{}, err
		}
		cur = next
	}
	return cur, nil
}

func applyDecode(v Value, kind policy.DecodeKind) (Value, error) {
	b, ok := v.AsBytes()
	if !ok {
		return Value{}, ErrTypeMismatch
	}

	switch kind {
	case policy.DecodeBase64:
		out, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(string(b), "="))
		if err != nil {
			return Value{}, &DecodeError{Kind: kind, Err: err}
		}
		return BytesValue(out), nil
	case policy.DecodeBase64URL:
		out, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(string(b), "="))
		if err != nil {
			return Value{}, &DecodeError{Kind: kind, Err: err}
		}
		return BytesValue(out), nil
	case policy.DecodeProtobuf:
		var st structpb.Struct
		if err := proto.Unmarshal(b, &st); err != nil {
			return Value{}, &DecodeError{Kind: kind, Err: err}
		}
		return StructValue(&st), nil
	case policy.DecodeJSON:
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			return Value{}, &DecodeError{Kind: kind, Err: err}
		}
		return JSONValue(out), nil
	default:
		return Value{}, fmt.Errorf("unknown decode kind %q", kind)
	}
}

func applyLookup(v Value, op policy.Lookup) (Value, error) {
	if !lookupInputMatches(op.Input, v.kind) {
		return Value{}, ErrLookupMismatch
	}
	switch v.kind {
	case KindJSON:
		return lookupJSON(v.json, op)
	case KindStruct:
		return lookupStruct(v.structv, op)
	case KindPairs:
		return lookupPairs(v.pairsv, op)
	default:
		return Value{}, ErrLookupMismatch
	}
}

// lookupInputMatches checks a lookup's declared input format against the
// value it is about to run over. An unspecified format accepts any value.
func lookupInputMatches(f policy.Format, k ValueKind) bool {
	switch f {
	case "":
		return true
	case policy.FormatJSON:
		return k == KindJSON
	case policy.FormatProtobufStruct:
		return k == KindStruct
	case policy.FormatPairs:
		return k == KindPairs
	case policy.FormatString:
		return k == KindString
	default:
		return false
	}
}

func lookupJSON(j any, op policy.Lookup) (Value, error) {
	var sub any
	switch sel := op.Selector.(type) {
	case policy.ByKey:
		obj, ok := j.(map[string]any)
		if !ok {
			return Value{}, ErrLookupMismatch
		}
		sub, ok = obj[string(sel)]
		if !ok {
			return Value{}, ErrLookupMismatch
		}
	case policy.ByPosition:
		arr, ok := j.([]any)
		if !ok || int(sel) < 0 || int(sel) >= len(arr) {
			return Value{}, ErrLookupMismatch
		}
		sub = arr[sel]
	default:
		return Value{}, ErrLookupMismatch
	}

	if op.Output == policy.FormatString {
		s, ok := sub.(string)
		if !ok {
			return Value{}, ErrLookupMismatch
		}
		return StringValue(s), nil
	}
	return JSONValue(sub), nil
}

func lookupStruct(st *structpb.Struct, op policy.Lookup) (Value, error) {
	key, ok := op.Selector.(policy.ByKey)
	if !ok {
		// Struct-shaped maps are unordered; positional lookup is
		// undefined over them.
		return Value{}, ErrLookupMismatch
	}
	field, ok := st.GetFields()[string(key)]
	if !ok {
		return Value{}, ErrLookupMismatch
	}
	return structFieldValue(field, op.Output)
}

func structFieldValue(field *structpb.Value, output policy.Format) (Value, error) {
	switch kind := field.GetKind().(type) {
	case *structpb.Value_StringValue:
		return StringValue(kind.StringValue), nil
	case *structpb.Value_StructValue:
		if output == policy.FormatString {
			return Value{}, ErrLookupMismatch
		}
		return StructValue(kind.StructValue), nil
	default:
		if output == policy.FormatString {
			return Value{}, ErrLookupMismatch
		}
		return JSONValue(field.AsInterface()), nil
	}
}

func lookupPairs(p pairs.Pairs, op policy.Lookup) (Value, error) {
	switch sel := op.Selector.(type) {
	case policy.ByKey:
		val, ok := p.Get(string(sel))
		if !ok {
			return Value{}, ErrLookupMismatch
		}
		return StringValue(val), nil
	case policy.ByPosition:
		if int(sel) < 0 || int(sel) >= len(p) {
			return Value{}, ErrLookupMismatch
		}
		return StringValue(p[sel].Value), nil
	default:
		return Value{}, ErrLookupMismatch
	}
}
