package collab

import (
	"encoding/json"
	"fmt"

	"iterflow/internal/jsonutil"
)

// Decode unmarshals a collaborator payload into out, unwrapping the accepted
// envelope shapes first. The accepted shapes are closed and tested:
//
//	bare value            -> used as-is
//	{"root": <value>}     -> unwrapped
//	{"files": [<value>]}  -> unwrapped (file-map producers)
//
// String values that are themselves encoded JSON are unwrapped by the
// tolerant pass in jsonutil.
func Decode(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return fmt.Errorf("collab: empty payload")
	}
	if inner, ok := unwrap(raw); ok {
		raw = inner
	}
	return jsonutil.UnmarshalFlex(raw, out)
}

// DecodeList decodes a payload that is semantically a list of T, additionally
// accepting a single bare object as a one-element list.
func DecodeList[T any](raw json.RawMessage) ([]T, error) {
	if inner, ok := unwrap(raw); ok {
		raw = inner
	}
	var list []T
	if err := jsonutil.UnmarshalFlex(raw, &list); err == nil {
		return list, nil
	}
	var one T
	if err := jsonutil.UnmarshalFlex(raw, &one); err != nil {
		return nil, fmt.Errorf("collab: payload is neither a list nor a single object: %w", err)
	}
	return []T{one}, nil
}

// unwrap peels a single "root" or "files" envelope when present.
func unwrap(raw json.RawMessage) (json.RawMessage, bool) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	if len(env) != 1 {
		return nil, false
	}
	for _, key := range []string{"root", "files"} {
		if inner, ok := env[key]; ok {
			return inner, true
		}
	}
	return nil, false
}
