package render

import (
	"bytes"
	"debug/dwarf"
	"testing"

	"github.com/fasthosting/log0/internal/dwarftest"
	"github.com/fasthosting/log0/internal/typecat"
)

const (
	ateUnsigned = 0x7
	ateSigned   = 0x5
	ateBoolean  = 0x2
	ateFloat    = 0x4
)

func build(t *testing.T, root *dwarftest.DIE) *typecat.Catalogue {
	t.Helper()

	abbrev, info, str, err := dwarftest.Build(root)
	if err != nil {
		t.Fatalf("dwarftest.Build: %v", err)
	}

	data, err := dwarf.New(abbrev, nil, nil, info, nil, nil, nil, str)
	if err != nil {
		t.Fatalf("dwarf.New: %v", err)
	}

	cat, err := typecat.Build(data)
	if err != nil {
		t.Fatalf("typecat.Build: %v", err)
	}

	return cat
}

func renderString(t *testing.T, cat *typecat.Catalogue, name string, buf []byte) string {
	t.Helper()

	ref, ok := cat.Lookup(name)
	if !ok {
		t.Fatalf("%s not in catalogue", name)
	}

	var sb bytes.Buffer
	if err := Value(&sb, ref, cat, buf); err != nil {
		t.Fatalf("Value: %v", err)
	}

	return sb.String()
}

func TestRenderScalarKinds(t *testing.T) {
	u32 := dwarftest.BaseType("u32", ateUnsigned, 4)
	i32 := dwarftest.BaseType("i32", ateSigned, 4)
	b := dwarftest.BaseType("bool", ateBoolean, 1)
	f64 := dwarftest.BaseType("f64", ateFloat, 8)

	holder := dwarftest.Struct("Holder", 17,
		dwarftest.Member("u", u32, 0),
		dwarftest.Member("i", i32, 4),
		dwarftest.Member("b", b, 8),
		dwarftest.Member("f", f64, 9),
	)

	cat := build(t, dwarftest.CompileUnit(u32, i32, b, f64, holder))

	ref, _ := cat.Lookup("Holder")
	d := cat.Get(ref)

	buf := make([]byte, 17)
	buf[0], buf[1], buf[2], buf[3] = 42, 0, 0, 0 // u = 42
	buf[4], buf[5], buf[6], buf[7] = 0xfe, 0xff, 0xff, 0xff // i = -2
	buf[8] = 1                                              // b = true

	var sb bytes.Buffer
	if err := Value(&sb, d.NamedFields["u"].Ref, cat, buf[0:4]); err != nil {
		t.Fatalf("Value(u): %v", err)
	}

	if sb.String() != "42" {
		t.Errorf("u = %q, want 42", sb.String())
	}

	sb.Reset()

	if err := Value(&sb, d.NamedFields["i"].Ref, cat, buf[4:8]); err != nil {
		t.Fatalf("Value(i): %v", err)
	}

	if sb.String() != "-2" {
		t.Errorf("i = %q, want -2", sb.String())
	}

	sb.Reset()

	if err := Value(&sb, d.NamedFields["b"].Ref, cat, buf[8:9]); err != nil {
		t.Fatalf("Value(b): %v", err)
	}

	if sb.String() != "true" {
		t.Errorf("b = %q, want true", sb.String())
	}
}

func TestRenderScalarSizeMismatchIsFatal(t *testing.T) {
	u32 := dwarftest.BaseType("u32", ateUnsigned, 4)
	holder := dwarftest.Struct("Holder", 4, dwarftest.Member("u", u32, 0))

	cat := build(t, dwarftest.CompileUnit(u32, holder))

	ref, _ := cat.Lookup("Holder")
	d := cat.Get(ref)

	var sb bytes.Buffer
	if err := Value(&sb, d.NamedFields["u"].Ref, cat, []byte{1, 2}); err == nil {
		t.Fatal("expected an error rendering a scalar from a too-short buffer")
	}
}

func TestRenderNamedAggregate(t *testing.T) {
	i32 := dwarftest.BaseType("i32", ateSigned, 4)
	point := dwarftest.Struct("Point", 8,
		dwarftest.Member("x", i32, 0),
		dwarftest.Member("y", i32, 4),
	)

	cat := build(t, dwarftest.CompileUnit(i32, point))

	buf := make([]byte, 8)
	buf[0] = 3
	buf[4] = 9

	got := renderString(t, cat, "Point", buf)
	want := "Point { x: 3, y: 9 }"

	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRenderTupleAggregate(t *testing.T) {
	u8 := dwarftest.BaseType("u8", ateUnsigned, 1)
	pair := dwarftest.Struct("Pair", 2,
		dwarftest.Member("__0", u8, 0),
		dwarftest.Member("__1", u8, 1),
	)

	cat := build(t, dwarftest.CompileUnit(u8, pair))

	got := renderString(t, cat, "Pair", []byte{7, 8})
	want := "Pair(7, 8)"

	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRenderTaggedUnion(t *testing.T) {
	u8 := dwarftest.BaseType("u8", ateUnsigned, 1)
	i32 := dwarftest.BaseType("i32", ateSigned, 4)

	tagMember := dwarftest.Member("tag", u8, 0)
	okArm := dwarftest.Variant(0, dwarftest.Member("Ok", i32, 4))
	errArm := dwarftest.Variant(1, dwarftest.Member("Err", i32, 4))

	result := dwarftest.Struct("Result", 8, tagMember, dwarftest.VariantPart(tagMember, okArm, errArm))

	cat := build(t, dwarftest.CompileUnit(u8, i32, result))

	buf := make([]byte, 8)
	buf[0] = 0
	buf[4], buf[5], buf[6], buf[7] = 7, 0, 0, 0

	got := renderString(t, cat, "Result", buf)
	want := "Result::Ok(7)"

	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	buf[0] = 1
	buf[4], buf[5], buf[6], buf[7] = 9, 0, 0, 0

	got = renderString(t, cat, "Result", buf)
	want = "Result::Err(9)"

	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRenderTaggedUnionUnknownDiscriminant(t *testing.T) {
	u8 := dwarftest.BaseType("u8", ateUnsigned, 1)
	i32 := dwarftest.BaseType("i32", ateSigned, 4)

	tagMember := dwarftest.Member("tag", u8, 0)
	okArm := dwarftest.Variant(0, dwarftest.Member("Ok", i32, 4))

	result := dwarftest.Struct("Result", 8, tagMember, dwarftest.VariantPart(tagMember, okArm))

	cat := build(t, dwarftest.CompileUnit(u8, i32, result))

	buf := make([]byte, 8)
	buf[0] = 99

	ref, _ := cat.Lookup("Result")

	var sb bytes.Buffer
	if err := Value(&sb, ref, cat, buf); err == nil {
		t.Fatal("expected an error for an unrecognized discriminant value")
	}
}

// TestRenderTaggedUnionNamedAggregateVariant covers a variant whose
// payload is a named aggregate sharing its name with the variant arm
// itself ("B"), which is exactly the case that exposes a naive "wrap the
// payload's own Value() output in parens" renderer as doubling the name
// (e.g. "Outer::B(B { x: 42 })" instead of "Outer::B { x: 42 }").
func TestRenderTaggedUnionNamedAggregateVariant(t *testing.T) {
	u8 := dwarftest.BaseType("u8", ateUnsigned, 1)

	tagMember := dwarftest.Member("tag", u8, 0)
	aArm := dwarftest.Variant(0, dwarftest.Member("A", dwarftest.Struct("A", 0), 1))

	bPayload := dwarftest.Struct("B", 1, dwarftest.Member("x", u8, 0))
	bArm := dwarftest.Variant(1, dwarftest.Member("B", bPayload, 1))

	outer := dwarftest.Struct("Outer", 2, tagMember, dwarftest.VariantPart(tagMember, aArm, bArm))

	cat := build(t, dwarftest.CompileUnit(u8, bPayload, outer))

	buf := []byte{0x01, 0x2A}

	got := renderString(t, cat, "Outer", buf)
	want := "Outer::B { x: 42 }"

	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRenderReference(t *testing.T) {
	i32 := dwarftest.BaseType("i32", ateSigned, 4)
	node := dwarftest.Struct("Node", 4, dwarftest.Member("value", i32, 0))
	ptr := dwarftest.Pointer(node)
	holder := dwarftest.Struct("Holder", 4, dwarftest.Member("next", ptr, 0))

	cat := build(t, dwarftest.CompileUnit(i32, node, ptr, holder))

	buf := []byte{5, 0, 0, 0}

	got := renderString(t, cat, "Holder", buf)
	want := "Holder { next: *Node { value: 5 } }"

	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRenderOpaquePlaceholder(t *testing.T) {
	weird := &dwarftest.DIE{
		Tag:   dwarf.TagBaseType,
		Attrs: []dwarftest.AttrValue{{Attr: dwarf.AttrName, Form: dwarftest.FormStrp, Str: "Weird"}},
	}
	holder := dwarftest.Struct("Holder", 1, dwarftest.Member("w", weird, 0))

	cat := build(t, dwarftest.CompileUnit(weird, holder))

	got := renderString(t, cat, "Holder", []byte{0})
	want := "Holder { w: <opaque Weird> }"

	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
