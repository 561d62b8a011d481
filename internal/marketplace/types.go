package marketplace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// preferredLanguages orders the keys tried when a value is localized.
var preferredLanguages = []string{"es", "pt", "en"}

// LocalizedString decodes either a plain JSON string or a language map such
// as {"es": "Rojo", "pt": "Vermelho"}. Numbers are kept as their text and
// null decodes to "".
type LocalizedString string

func (l *LocalizedString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = ""
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = LocalizedString(strings.TrimSpace(s))
		return nil
	case '{':
		var m map[string]json.RawMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		*l = LocalizedString(pickLanguage(m))
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("localized string: unexpected %s", string(data))
		}
		*l = LocalizedString(n.String())
		return nil
	}
}

func pickLanguage(m map[string]json.RawMessage) string {
	text := func(raw json.RawMessage) (string, bool) {
		var s LocalizedString
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return "", false
		}
		return string(s), true
	}
	for _, lang := range preferredLanguages {
		if raw, ok := m[lang]; ok {
			if s, ok := text(raw); ok {
				return s
			}
		}
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := text(m[k]); ok {
			return s
		}
	}
	return ""
}

func (l LocalizedString) String() string { return string(l) }

// FlexInt decodes an integer sent as a number or a numeric string.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("flex int: %w", err)
	}
	*f = FlexInt(n)
	return nil
}

// FlexID decodes an identifier sent as a number or a string.
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "null" {
		s = ""
	}
	*f = FlexID(s)
	return nil
}

func (f FlexID) String() string { return string(f) }
