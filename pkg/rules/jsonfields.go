package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// jsonObject is a JSON object whose fields are looked up under both their
// camelCase and snake_case names.
type jsonObject map[string]json.RawMessage

func parseObject(raw json.RawMessage) (jsonObject, error) {
	var o jsonObject
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, err
	}
	if o == nil {
		o = jsonObject{}
	}
	return o, nil
}

// snakeCase converts "minimumSignatures" to "minimum_signatures".
func snakeCase(name string) string {
	var sb strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// get returns the raw value stored under the camelCase name or its
// snake_case form. JSON null counts as absent.
func (o jsonObject) get(name string) (json.RawMessage, bool) {
	for _, key := range []string{name, snakeCase(name)} {
		if v, ok := o[key]; ok && !isNull(v) {
			return v, true
		}
	}
	return nil, false
}

func (o jsonObject) has(name string) bool {
	_, ok := o.get(name)
	return ok
}

func (o jsonObject) string(name string) (string, error) {
	v, ok := o.get(name)
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("field %q: %w", name, err)
	}
	return s, nil
}

// int accepts a JSON number or a numeric string.
func (o jsonObject) int(name string) (int64, error) {
	v, ok := o.get(name)
	if !ok {
		return 0, nil
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		var s string
		if err2 := json.Unmarshal(v, &s); err2 != nil {
			return 0, fmt.Errorf("field %q: %w", name, err)
		}
		n = json.Number(s)
	}
	i, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", name, err)
	}
	return i, nil
}

func (o jsonObject) strings(name string) ([]string, error) {
	v, ok := o.get(name)
	if !ok {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(v, &out); err != nil {
		return nil, fmt.Errorf("field %q: %w", name, err)
	}
	return out, nil
}

func (o jsonObject) object(name string) (jsonObject, error) {
	v, ok := o.get(name)
	if !ok {
		return nil, nil
	}
	obj, err := parseObject(v)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", name, err)
	}
	return obj, nil
}

func (o jsonObject) objects(name string) ([]jsonObject, error) {
	v, ok := o.get(name)
	if !ok {
		return nil, nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(v, &raws); err != nil {
		return nil, fmt.Errorf("field %q: %w", name, err)
	}
	out := make([]jsonObject, 0, len(raws))
	for i, r := range raws {
		obj, err := parseObject(r)
		if err != nil {
			return nil, fmt.Errorf("field %q[%d]: %w", name, i, err)
		}
		out = append(out, obj)
	}
	return out, nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
