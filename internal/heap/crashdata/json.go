package crashdata

import (
	"fmt"
	"strconv"
	"strings"
)

// ToJSON renders a tree into the stable textual report format.
//
// The dialect is JSON-shaped but tuned for crash triage rather than
// strict conformance: addresses render as unquoted fixed-width hex
// literals (8 digits, 16 when the value does not fit in 32 bits), and
// blobs render as a typed object with the raw bytes as hex literals
// wrapped 8 per line. Dictionary keys keep insertion order, so the same
// tree always renders the same bytes.
//
// With pretty set, the output is indented 2 spaces per level; otherwise
// it is a single line.
func ToJSON(pretty bool, v *Value) (string, error) {
	if v == nil {
		return "", fmt.Errorf("crashdata: nil value")
	}
	var b strings.Builder
	if err := render(&b, v, 0, pretty); err != nil {
		return "", err
	}
	return b.String(), nil
}

const indentUnit = "  "

func indent(b *strings.Builder, depth int, pretty bool) {
	if !pretty {
		return
	}
	for i := 0; i < depth; i++ {
		b.WriteString(indentUnit)
	}
}

func newline(b *strings.Builder, pretty bool) {
	if pretty {
		b.WriteByte('\n')
	}
}

func render(b *strings.Builder, v *Value, depth int, pretty bool) error {
	switch v.kind {
	case KindNull:
		b.WriteString("null")
	case KindInteger:
		b.WriteString(strconv.FormatUint(v.integer, 10))
	case KindAddress:
		b.WriteString(formatAddress(v.integer))
	case KindString:
		b.WriteString(strconv.Quote(v.str))
	case KindBlob:
		return renderBlob(b, v, depth, pretty)
	case KindList:
		return renderList(b, v.list, depth, pretty)
	case KindDict:
		return renderDict(b, v.dict, depth, pretty)
	case kindByte:
		fmt.Fprintf(b, "0x%02X", v.integer)
	default:
		return fmt.Errorf("crashdata: unknown value kind %d", v.kind)
	}
	return nil
}

// formatAddress renders an address as a fixed-width hex literal.
func formatAddress(addr uint64) string {
	if addr > 0xFFFFFFFF {
		return fmt.Sprintf("0x%016X", addr)
	}
	return fmt.Sprintf("0x%08X", addr)
}

func renderDict(b *strings.Builder, entries []Entry, depth int, pretty bool) error {
	if len(entries) == 0 {
		b.WriteString("{}")
		return nil
	}
	b.WriteByte('{')
	newline(b, pretty)
	for i, e := range entries {
		indent(b, depth+1, pretty)
		b.WriteString(strconv.Quote(e.Key))
		b.WriteString(": ")
		if err := render(b, e.Value, depth+1, pretty); err != nil {
			return err
		}
		if i+1 < len(entries) {
			b.WriteByte(',')
			if !pretty {
				b.WriteByte(' ')
			}
		}
		newline(b, pretty)
	}
	indent(b, depth, pretty)
	b.WriteByte('}')
	return nil
}

// scalarsPerLine is how many leaf elements a pretty-printed list packs
// on one line before wrapping.
const scalarsPerLine = 8

func renderList(b *strings.Builder, elems []*Value, depth int, pretty bool) error {
	if len(elems) == 0 {
		b.WriteString("[]")
		return nil
	}
	b.WriteByte('[')
	newline(b, pretty)
	if scalarList(elems) {
		for i, e := range elems {
			if i%scalarsPerLine == 0 {
				indent(b, depth+1, pretty)
			}
			if err := render(b, e, depth+1, pretty); err != nil {
				return err
			}
			if i+1 < len(elems) {
				b.WriteByte(',')
				if (i+1)%scalarsPerLine == 0 {
					newline(b, pretty)
				} else {
					b.WriteByte(' ')
				}
			}
		}
		newline(b, pretty)
	} else {
		for i, e := range elems {
			indent(b, depth+1, pretty)
			if err := render(b, e, depth+1, pretty); err != nil {
				return err
			}
			if i+1 < len(elems) {
				b.WriteByte(',')
				if !pretty {
					b.WriteByte(' ')
				}
			}
			newline(b, pretty)
		}
	}
	indent(b, depth, pretty)
	b.WriteByte(']')
	return nil
}

func scalarList(elems []*Value) bool {
	for _, e := range elems {
		switch e.kind {
		case KindDict, KindList, KindBlob:
			return false
		}
	}
	return true
}

// renderBlob writes the typed blob object. Address and size slots exist
// for blobs that reference out-of-line data; inline snapshots leave them
// null.
func renderBlob(b *strings.Builder, v *Value, depth int, pretty bool) error {
	d := NewDict().
		Add("type", String("blob")).
		Add("address", Null()).
		Add("size", Null()).
		Add("data", byteList(v.blob))
	return renderDict(b, d.dict, depth, pretty)
}

func byteList(data []byte) *Value {
	l := NewList()
	for _, by := range data {
		l.Append(&Value{kind: kindByte, integer: uint64(by)})
	}
	return l
}

// kindByte is an internal leaf used only inside blobs: a two-digit hex
// literal.
const kindByte Kind = 0xFF
