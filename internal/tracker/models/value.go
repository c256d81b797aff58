package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// AttachmentPlaceholderPrefix marks a form value standing in for an uploaded
// file. The remainder of the string is the attachment reference.
const AttachmentPlaceholderPrefix = "__attachment__:"

// Kind enumerates the variants of Value.
type Kind int

const (
	KindText Kind = iota
	KindNumber
	KindBool
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindFile:
		return "file"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a single attribute or data element value. Exactly one of the
// payload fields is meaningful, selected by Kind.
type Value struct {
	Kind Kind
	text string
	flag bool
}

// Text returns a free-text value.
func Text(s string) Value { return Value{Kind: KindText, text: s} }

// Number returns a numeric value keeping its literal representation.
func Number(literal string) Value { return Value{Kind: KindNumber, text: literal} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{Kind: KindBool, flag: b} }

// File returns a placeholder for the attachment stored under ref.
func File(ref string) Value { return Value{Kind: KindFile, text: ref} }

// Ref returns the attachment reference of a File value.
func (v Value) Ref() (string, bool) {
	if v.Kind != KindFile {
		return "", false
	}
	return v.text, true
}

// Render returns the trimmed wire text of a scalar value. File values have no
// text of their own and render as "".
func (v Value) Render() string {
	switch v.Kind {
	case KindText, KindNumber:
		return strings.TrimSpace(v.text)
	case KindBool:
		return strconv.FormatBool(v.flag)
	default:
		return ""
	}
}

// Placeholder returns the sentinel string a File value travels as in JSON.
func (v Value) Placeholder() string {
	if v.Kind != KindFile {
		return ""
	}
	return AttachmentPlaceholderPrefix + v.text
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindText:
		return json.Marshal(v.text)
	case KindNumber:
		if v.text == "" {
			return []byte(`null`), nil
		}
		if !json.Valid([]byte(v.text)) {
			return json.Marshal(v.text)
		}
		return []byte(v.text), nil
	case KindBool:
		return json.Marshal(v.flag)
	case KindFile:
		return json.Marshal(v.Placeholder())
	default:
		return nil, fmt.Errorf("unknown value kind %d", int(v.Kind))
	}
}

func (v *Value) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	switch x := raw.(type) {
	case nil:
		*v = Text("")
	case string:
		if ref, ok := strings.CutPrefix(x, AttachmentPlaceholderPrefix); ok {
			*v = File(ref)
		} else {
			*v = Text(x)
		}
	case json.Number:
		*v = Number(x.String())
	case bool:
		*v = Bool(x)
	default:
		return fmt.Errorf("unsupported form value: %s", string(b))
	}
	return nil
}
