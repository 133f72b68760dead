// Package dwarftest builds minimal, real DWARF v4 .debug_info/.debug_abbrev/
// .debug_str byte sequences in memory, parseable by the standard library's
// debug/dwarf, for exercising internal/typecat without shipping prebuilt
// binary fixtures.
//
// The encoding conventions: ULEB128 abbrev codes, a single compile unit,
// DW_FORM_strp for every name so every attribute has a static width, and
// DW_FORM_ref4 offsets measured from the first byte of the compile unit
// header, the way debug/dwarf resolves them.
package dwarftest

import (
	"bytes"
	"debug/dwarf"
	"encoding/binary"
	"fmt"
)

// Form is the subset of DWARF attribute forms this package emits. Every
// one of these has a fixed byte width, which lets the builder compute
// every DIE's offset in a single structural pass before any attribute
// value (a string, a cross-reference) is resolved.
type Form int

const (
	FormStrp Form = iota
	FormData1
	FormData2
	FormData4
	FormRef4
)

func (f Form) width() uint32 {
	switch f {
	case FormStrp, FormData4, FormRef4:
		return 4
	case FormData2:
		return 2
	case FormData1:
		return 1
	default:
		return 0
	}
}

func (f Form) code() uint64 {
	switch f {
	case FormStrp:
		return 0x0e
	case FormData1:
		return 0x0b
	case FormData2:
		return 0x05
	case FormData4:
		return 0x06
	case FormRef4:
		return 0x13
	default:
		return 0
	}
}

// AttrValue is one attribute on a DIE. Exactly one of Str, Int or Ref is
// meaningful, chosen by Form.
type AttrValue struct {
	Attr dwarf.Attr
	Form Form
	Str  string
	Int  int64
	Ref  *DIE
}

// DIE is one debugging information entry in the tree being built.
type DIE struct {
	Tag      dwarf.Tag
	Attrs    []AttrValue
	Children []*DIE
}

// BaseType builds a DW_TAG_base_type DIE with the three attributes
// internal/typecat requires to classify it.
func BaseType(name string, encoding, byteSize int64) *DIE {
	return &DIE{
		Tag: dwarf.TagBaseType,
		Attrs: []AttrValue{
			{Attr: dwarf.AttrName, Form: FormStrp, Str: name},
			{Attr: dwarf.AttrEncoding, Form: FormData1, Int: encoding},
			{Attr: dwarf.AttrByteSize, Form: FormData1, Int: byteSize},
		},
	}
}

// Member builds a DW_TAG_member DIE referencing typ.
func Member(name string, typ *DIE, byteOffset int64) *DIE {
	return &DIE{
		Tag: dwarf.TagMember,
		Attrs: []AttrValue{
			{Attr: dwarf.AttrName, Form: FormStrp, Str: name},
			{Attr: dwarf.AttrType, Form: FormRef4, Ref: typ},
			{Attr: dwarf.AttrDataMemberLoc, Form: FormData4, Int: byteOffset},
		},
	}
}

// Struct builds a DW_TAG_structure_type DIE. Pass Member or VariantPart
// results as children.
func Struct(name string, byteSize int64, children ...*DIE) *DIE {
	return &DIE{
		Tag: dwarf.TagStructType,
		Attrs: []AttrValue{
			{Attr: dwarf.AttrName, Form: FormStrp, Str: name},
			{Attr: dwarf.AttrByteSize, Form: FormData4, Int: byteSize},
		},
		Children: children,
	}
}

// VariantPart builds a DW_TAG_variant_part DIE. discr must be the Member
// DIE carrying the discriminant, and it must also appear in the tree
// (normally among the owning Struct's children): like every FormRef4
// target, a DIE that is not in the tree is written as offset 0.
func VariantPart(discr *DIE, variants ...*DIE) *DIE {
	return &DIE{
		Tag:      dwarf.TagVariantPart,
		Attrs:    []AttrValue{{Attr: dwarf.AttrDiscr, Form: FormRef4, Ref: discr}},
		Children: variants,
	}
}

// Variant builds one DW_TAG_variant arm carrying a single member payload.
func Variant(discrValue int64, payload *DIE) *DIE {
	return &DIE{
		Tag:      dwarf.TagVariant,
		Attrs:    []AttrValue{{Attr: dwarf.AttrDiscrValue, Form: FormData4, Int: discrValue}},
		Children: []*DIE{payload},
	}
}

// Pointer builds a DW_TAG_pointer_type DIE.
func Pointer(pointee *DIE) *DIE {
	return &DIE{
		Tag: dwarf.TagPointerType,
		Attrs: []AttrValue{
			{Attr: dwarf.AttrByteSize, Form: FormData1, Int: 8},
			{Attr: dwarf.AttrType, Form: FormRef4, Ref: pointee},
		},
	}
}

// Reference builds a DW_TAG_reference_type DIE.
func Reference(pointee *DIE) *DIE {
	return &DIE{
		Tag: dwarf.TagReferenceType,
		Attrs: []AttrValue{
			{Attr: dwarf.AttrByteSize, Form: FormData1, Int: 8},
			{Attr: dwarf.AttrType, Form: FormRef4, Ref: pointee},
		},
	}
}

// Namespace builds a DW_TAG_namespace DIE wrapping children.
func Namespace(name string, children ...*DIE) *DIE {
	return &DIE{
		Tag:      dwarf.TagNamespace,
		Attrs:    []AttrValue{{Attr: dwarf.AttrName, Form: FormStrp, Str: name}},
		Children: children,
	}
}

// CompileUnit builds the root DW_TAG_compile_unit DIE.
func CompileUnit(children ...*DIE) *DIE {
	return &DIE{Tag: dwarf.TagCompileUnit, Children: children}
}

// Build serializes root (a CompileUnit) into .debug_abbrev, .debug_info
// and .debug_str payloads that debug/dwarf.New can parse.
func Build(root *DIE) (abbrev, info, str []byte, err error) {
	b := &builder{
		abbrevCodes: map[string]uint64{},
		offsets:     map[*DIE]uint32{},
		strPool:     map[string]uint32{},
		strBuf:      &bytes.Buffer{},
		cursor:      cuHeaderSize,
	}
	b.strBuf.WriteByte(0)

	if err := b.layout(root); err != nil {
		return nil, nil, nil, err
	}

	body := &bytes.Buffer{}
	b.write(body, root)

	infoBuf := &bytes.Buffer{}
	binary.Write(infoBuf, binary.LittleEndian, uint32(2+4+1+body.Len())) //nolint:errcheck
	binary.Write(infoBuf, binary.LittleEndian, uint16(4))                //nolint:errcheck // version
	binary.Write(infoBuf, binary.LittleEndian, uint32(0))                //nolint:errcheck // abbrev_offset
	infoBuf.WriteByte(8)                                                 // address_size
	infoBuf.Write(body.Bytes())

	abbrevBuf := &bytes.Buffer{}

	for _, spec := range b.abbrevOrder {
		uleb128(abbrevBuf, spec.code)
		uleb128(abbrevBuf, uint64(spec.tag))

		if spec.hasChildren {
			abbrevBuf.WriteByte(1)
		} else {
			abbrevBuf.WriteByte(0)
		}

		for _, a := range spec.attrs {
			uleb128(abbrevBuf, uint64(a.Attr))
			uleb128(abbrevBuf, a.Form.code())
		}

		uleb128(abbrevBuf, 0)
		uleb128(abbrevBuf, 0)
	}

	abbrevBuf.WriteByte(0)

	return abbrevBuf.Bytes(), infoBuf.Bytes(), b.strBuf.Bytes(), nil
}

// cuHeaderSize is the DWARF v4 compile unit header: 4-byte length,
// 2-byte version, 4-byte abbrev offset, 1-byte address size. DW_FORM_ref4
// values count from the length field, so the layout cursor starts here.
const cuHeaderSize = 11

type abbrevSpec struct {
	code        uint64
	tag         dwarf.Tag
	hasChildren bool
	attrs       []AttrValue
}

type builder struct {
	abbrevCodes map[string]uint64
	abbrevOrder []abbrevSpec
	offsets     map[*DIE]uint32
	strPool     map[string]uint32
	strBuf      *bytes.Buffer
	cursor      uint32
}

// layout performs the single structural pre-order pass: every DIE's
// CU-relative offset only depends on fixed-width attribute forms, never
// on the cross-reference or string values themselves, so the whole tree
// can be offset-assigned before any reference is resolved; forward
// references (a pointer to a type defined later in the tree) fall out of
// this for free.
func (b *builder) layout(d *DIE) error {
	b.offsets[d] = b.cursor

	if _, err := b.registerAbbrev(d); err != nil {
		return err
	}

	b.cursor++ // abbrev code, always one ULEB128 byte at this fixture's scale

	for _, a := range d.Attrs {
		b.cursor += a.Form.width()
	}

	for _, c := range d.Children {
		if err := b.layout(c); err != nil {
			return err
		}
	}

	if len(d.Children) > 0 {
		b.cursor++
	}

	return nil
}

func (b *builder) registerAbbrev(d *DIE) (uint64, error) {
	sig := signature(d)
	if code, ok := b.abbrevCodes[sig]; ok {
		return code, nil
	}

	code := uint64(len(b.abbrevCodes) + 1)
	if code >= 128 {
		return 0, fmt.Errorf("dwarftest: more than 127 distinct DIE shapes, abbrev code no longer fits one ULEB128 byte")
	}

	b.abbrevCodes[sig] = code
	b.abbrevOrder = append(b.abbrevOrder, abbrevSpec{
		code: code, tag: d.Tag, hasChildren: len(d.Children) > 0, attrs: d.Attrs,
	})

	return code, nil
}

func signature(d *DIE) string {
	sig := fmt.Sprintf("%d|%v", d.Tag, len(d.Children) > 0)
	for _, a := range d.Attrs {
		sig += fmt.Sprintf(",%d:%d", a.Attr, a.Form)
	}

	return sig
}

func (b *builder) write(buf *bytes.Buffer, d *DIE) {
	code := b.abbrevCodes[signature(d)]
	uleb128(buf, code)

	for _, a := range d.Attrs {
		switch a.Form {
		case FormStrp:
			binary.Write(buf, binary.LittleEndian, b.internStr(a.Str)) //nolint:errcheck
		case FormData1:
			buf.WriteByte(byte(a.Int))
		case FormData2:
			binary.Write(buf, binary.LittleEndian, uint16(a.Int)) //nolint:errcheck
		case FormData4:
			binary.Write(buf, binary.LittleEndian, uint32(a.Int)) //nolint:errcheck
		case FormRef4:
			binary.Write(buf, binary.LittleEndian, b.offsets[a.Ref]) //nolint:errcheck
		}
	}

	for _, c := range d.Children {
		b.write(buf, c)
	}

	if len(d.Children) > 0 {
		buf.WriteByte(0)
	}
}

func (b *builder) internStr(s string) uint32 {
	if off, ok := b.strPool[s]; ok {
		return off
	}

	off := uint32(b.strBuf.Len())
	b.strBuf.WriteString(s)
	b.strBuf.WriteByte(0)
	b.strPool[s] = off

	return off
}

func uleb128(buf *bytes.Buffer, v uint64) {
	for {
		c := byte(v & 0x7f)

		v >>= 7
		if v != 0 {
			c |= 0x80
		}

		buf.WriteByte(c)

		if v == 0 {
			return
		}
	}
}
