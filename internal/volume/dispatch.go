package volume

import (
	"encoding/json"
	"fmt"
	"reflect"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// applyJSONOps folds an RFC 6902 operation sequence over doc and returns the
// resulting document text. Root-path operations (path "") act on the whole
// document: add/replace swap it, remove nulls it, test deep-compares it.
func applyJSONOps(doc string, ops []json.RawMessage) (string, error) {
	current := []byte(doc)

	for i, raw := range ops {
		var header struct {
			Op    string          `json:"op"`
			Path  *string         `json:"path"`
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(raw, &header); err != nil {
			return "", fmt.Errorf("op %d: %w", i, err)
		}
		if header.Path == nil {
			return "", fmt.Errorf("op %d: missing path", i)
		}

		if *header.Path == "" {
			next, err := applyRootOp(current, header.Op, header.Value)
			if err != nil {
				return "", fmt.Errorf("op %d: %w", i, err)
			}
			current = next
			continue
		}

		patch, err := jsonpatch.DecodePatch(mustEncodeOps([]json.RawMessage{raw}))
		if err != nil {
			return "", fmt.Errorf("op %d: %w", i, err)
		}
		next, err := patch.Apply(current)
		if err != nil {
			return "", fmt.Errorf("op %d: %w", i, err)
		}
		current = next
	}

	return string(current), nil
}

// applyRootOp handles an operation addressing the document root.
func applyRootOp(doc []byte, op string, value json.RawMessage) ([]byte, error) {
	switch op {
	case "add", "replace":
		if value == nil {
			return nil, fmt.Errorf("%s at root: missing value", op)
		}
		compact, err := compactJSON(value)
		if err != nil {
			return nil, fmt.Errorf("%s at root: %w", op, err)
		}
		return compact, nil
	case "remove":
		return []byte("null"), nil
	case "test":
		equal, err := jsonDeepEqual(doc, value)
		if err != nil {
			return nil, fmt.Errorf("test at root: %w", err)
		}
		if !equal {
			return nil, fmt.Errorf("test at root failed")
		}
		return doc, nil
	default:
		return nil, fmt.Errorf("unsupported root operation %q", op)
	}
}

func compactJSON(raw json.RawMessage) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func jsonDeepEqual(a, b []byte) (bool, error) {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false, err
	}
	return reflect.DeepEqual(av, bv), nil
}

func mustEncodeOps(ops []json.RawMessage) []byte {
	raw, err := json.Marshal(ops)
	if err != nil {
		// raw messages re-marshal verbatim
		panic(err)
	}
	return raw
}
