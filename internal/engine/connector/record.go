package connector

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// MarshalRecord encodes a record to its canonical JSON form. Engines persist
// this form and all path extraction runs against it.
func MarshalRecord(r Record) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return b, nil
}

// UnmarshalRecord decodes a persisted JSON document back into a record.
func UnmarshalRecord(b []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}

// ExtractPath evaluates a gjson path against a record. The second return is
// false when the path does not resolve.
func ExtractPath(r Record, path string) (gjson.Result, bool) {
	b, err := MarshalRecord(r)
	if err != nil {
		return gjson.Result{}, false
	}
	res := gjson.GetBytes(b, path)
	return res, res.Exists()
}

// KeyString converts an extracted key value into the canonical string key
// used by engines. Only scalar values are valid keys.
func KeyString(res gjson.Result) (string, error) {
	switch res.Type {
	case gjson.String, gjson.Number, gjson.True, gjson.False:
		return res.String(), nil
	default:
		return "", fmt.Errorf("%w: value %q is not a scalar", ErrNoKey, res.Raw)
	}
}

// KeyFor resolves the primary key of a record under the given store options.
// The bool reports whether a key was present; absence is only legal when the
// store auto-increments.
func KeyFor(r Record, opts StoreOptions) (string, bool, error) {
	if opts.KeyPath == "" {
		return "", false, nil
	}
	res, ok := ExtractPath(r, opts.KeyPath)
	if !ok {
		if opts.AutoIncrement {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: key path %q absent", ErrNoKey, opts.KeyPath)
	}
	k, err := KeyString(res)
	if err != nil {
		return "", false, err
	}
	return k, true, nil
}

// InjectKey writes a generated key value into a record at the store's key
// path. Nested key paths cannot be synthesized.
func InjectKey(r Record, opts StoreOptions, seq int64) error {
	if strings.Contains(opts.KeyPath, ".") {
		return fmt.Errorf("%w: cannot generate key for nested path %q", ErrNoKey, opts.KeyPath)
	}
	r[opts.KeyPath] = float64(seq)
	return nil
}

// AdvanceSeq moves a key generator past an explicitly supplied key, so later
// generated keys never collide with earlier explicit integer keys.
func AdvanceSeq(seq int64, key string) int64 {
	n, err := strconv.ParseInt(key, 10, 64)
	if err != nil || n <= seq {
		return seq
	}
	return n
}

// CloneRecord deep-copies a record so engine state never aliases caller maps.
func CloneRecord(r Record) Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return CloneRecord(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// PreviewMerge composes the record set as it would look after putting the
// staged records over the existing ones, preserving insertion order, without
// mutating either input. existingKeys carries the current insertion order.
func PreviewMerge(existingKeys []string, existing map[string]Record, stagedKeys []string, staged []Record) []Record {
	merged := make(map[string]Record, len(existing)+len(staged))
	order := make([]string, 0, len(existingKeys)+len(stagedKeys))
	for _, k := range existingKeys {
		merged[k] = existing[k]
		order = append(order, k)
	}
	for i, k := range stagedKeys {
		if _, ok := merged[k]; !ok {
			order = append(order, k)
		}
		merged[k] = staged[i]
	}
	out := make([]Record, 0, len(order))
	for _, k := range order {
		out = append(out, merged[k])
	}
	return out
}

// ValidateUnique checks a full record set against one unique index. Records
// without the indexed property do not participate in the constraint.
func ValidateUnique(records []Record, idx IndexSpec) error {
	if !idx.Unique {
		return nil
	}
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		res, ok := ExtractPath(r, idx.Property)
		if !ok {
			continue
		}
		v := res.String()
		if _, dup := seen[v]; dup {
			return fmt.Errorf("%w: index %q value %q", ErrUniqueViolation, idx.Name, v)
		}
		seen[v] = struct{}{}
	}
	return nil
}
