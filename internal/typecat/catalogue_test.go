package typecat

import (
	"debug/dwarf"
	"testing"

	"github.com/fasthosting/log0/internal/dwarftest"
)

func buildCatalogue(t *testing.T, root *dwarftest.DIE) *Catalogue {
	t.Helper()

	abbrev, info, str, err := dwarftest.Build(root)
	if err != nil {
		t.Fatalf("dwarftest.Build: %v", err)
	}

	data, err := dwarf.New(abbrev, nil, nil, info, nil, nil, nil, str)
	if err != nil {
		t.Fatalf("dwarf.New: %v", err)
	}

	cat, err := Build(data)
	if err != nil {
		t.Fatalf("typecat.Build: %v", err)
	}

	return cat
}

func TestBuildNamedAggregate(t *testing.T) {
	i32 := dwarftest.BaseType("i32", ateSigned, 4)
	point := dwarftest.Struct("Point", 8,
		dwarftest.Member("x", i32, 0),
		dwarftest.Member("y", i32, 4),
	)

	cat := buildCatalogue(t, dwarftest.CompileUnit(i32, dwarftest.Namespace("myapp", point)))

	ref, ok := cat.Lookup("myapp::Point")
	if !ok {
		t.Fatal("Point not found in catalogue")
	}

	d := cat.Get(ref)
	if d.Kind != KindAggregateNamed {
		t.Fatalf("Kind = %v, want AggregateNamed", d.Kind)
	}

	xField, ok := d.NamedFields["x"]
	if !ok {
		t.Fatal("missing field x")
	}

	xDesc := cat.Get(xField.Ref)
	if xDesc.Kind != KindScalar || xDesc.ScalarKind != ScalarSigned || xDesc.SizeBytes != 4 {
		t.Errorf("x descriptor = %+v", xDesc)
	}

	if xField.ByteOffset != 0 || d.NamedFields["y"].ByteOffset != 4 {
		t.Errorf("unexpected byte offsets: x=%d y=%d", xField.ByteOffset, d.NamedFields["y"].ByteOffset)
	}
}

func TestBuildTupleAggregate(t *testing.T) {
	u8 := dwarftest.BaseType("u8", ateUnsigned, 1)
	pair := dwarftest.Struct("Pair", 2,
		dwarftest.Member("__0", u8, 0),
		dwarftest.Member("__1", u8, 1),
	)

	cat := buildCatalogue(t, dwarftest.CompileUnit(u8, pair))

	ref, ok := cat.Lookup("Pair")
	if !ok {
		t.Fatal("Pair not found")
	}

	d := cat.Get(ref)
	if d.Kind != KindAggregateTuple {
		t.Fatalf("Kind = %v, want AggregateTuple", d.Kind)
	}

	if len(d.IndexedFields) != 2 {
		t.Fatalf("IndexedFields has %d entries, want 2", len(d.IndexedFields))
	}

	if d.IndexedFields[0].ByteOffset != 0 || d.IndexedFields[1].ByteOffset != 1 {
		t.Errorf("unexpected tuple offsets: %+v", d.IndexedFields)
	}
}

func TestBuildTaggedUnion(t *testing.T) {
	u8 := dwarftest.BaseType("u8", ateUnsigned, 1)
	i32 := dwarftest.BaseType("i32", ateSigned, 4)

	tagMember := dwarftest.Member("tag", u8, 0)
	okArm := dwarftest.Variant(0, dwarftest.Member("Ok", i32, 4))
	errArm := dwarftest.Variant(1, dwarftest.Member("Err", i32, 4))

	result := dwarftest.Struct("Result", 8, tagMember, dwarftest.VariantPart(tagMember, okArm, errArm))

	cat := buildCatalogue(t, dwarftest.CompileUnit(u8, i32, result))

	ref, ok := cat.Lookup("Result")
	if !ok {
		t.Fatal("Result not found")
	}

	d := cat.Get(ref)
	if d.Kind != KindTaggedUnion {
		t.Fatalf("Kind = %v, want TaggedUnion", d.Kind)
	}

	if d.DiscriminantOffset != 0 {
		t.Errorf("DiscriminantOffset = %d, want 0", d.DiscriminantOffset)
	}

	if d.DiscriminantSize != 1 {
		t.Errorf("DiscriminantSize = %d, want 1 (u8)", d.DiscriminantSize)
	}

	okVariant, ok := d.Variants[0]
	if !ok || okVariant.Name != "Ok" || okVariant.ByteOffset != 4 {
		t.Errorf("variant 0 = %+v, ok=%v", okVariant, ok)
	}

	errVariant, ok := d.Variants[1]
	if !ok || errVariant.Name != "Err" {
		t.Errorf("variant 1 = %+v, ok=%v", errVariant, ok)
	}
}

func TestBuildSelfReferentialStructViaPointer(t *testing.T) {
	i32 := dwarftest.BaseType("i32", ateSigned, 4)
	node := dwarftest.Struct("Node", 16)
	ptr := dwarftest.Pointer(node)
	node.Children = []*dwarftest.DIE{
		dwarftest.Member("value", i32, 0),
		dwarftest.Member("next", ptr, 8),
	}

	cat := buildCatalogue(t, dwarftest.CompileUnit(i32, ptr, node))

	ref, ok := cat.Lookup("Node")
	if !ok {
		t.Fatal("Node not found")
	}

	d := cat.Get(ref)
	if d.Kind != KindAggregateNamed {
		t.Fatalf("Kind = %v, want AggregateNamed", d.Kind)
	}

	nextField := d.NamedFields["next"]
	nextDesc := cat.Get(nextField.Ref)

	if nextDesc.Kind != KindReference {
		t.Fatalf("next field Kind = %v, want Reference", nextDesc.Kind)
	}

	if nextDesc.Pointee != ref {
		t.Errorf("pointee ref = %d, want %d (Node itself)", nextDesc.Pointee, ref)
	}
}

func TestMissingRequiredAttrDiscardsBaseType(t *testing.T) {
	weird := &dwarftest.DIE{
		Tag:   dwarf.TagBaseType,
		Attrs: []dwarftest.AttrValue{{Attr: dwarf.AttrName, Form: dwarftest.FormStrp, Str: "Weird"}},
	}
	holder := dwarftest.Struct("Holder", 1, dwarftest.Member("w", weird, 0))

	cat := buildCatalogue(t, dwarftest.CompileUnit(weird, holder))

	ref, _ := cat.Lookup("Holder")
	d := cat.Get(ref)
	wDesc := cat.Get(d.NamedFields["w"].Ref)

	if wDesc.Kind != KindOpaque {
		t.Errorf("Kind = %v, want Opaque for a base type missing required attributes", wDesc.Kind)
	}
}

func TestBadFloatSizeIsFatal(t *testing.T) {
	bad := dwarftest.BaseType("f80", ateFloat, 10)

	abbrev, info, str, err := dwarftest.Build(dwarftest.CompileUnit(bad))
	if err != nil {
		t.Fatalf("dwarftest.Build: %v", err)
	}

	data, err := dwarf.New(abbrev, nil, nil, info, nil, nil, nil, str)
	if err != nil {
		t.Fatalf("dwarf.New: %v", err)
	}

	if _, err := Build(data); err == nil {
		t.Fatal("expected an error for a floating point base type at an unsupported size")
	}
}

func TestNamespaceNestingProducesQualifiedNames(t *testing.T) {
	u32 := dwarftest.BaseType("u32", ateUnsigned, 4)
	leaf := dwarftest.Struct("Id", 4, dwarftest.Member("__0", u32, 0))

	cat := buildCatalogue(t, dwarftest.CompileUnit(u32, dwarftest.Namespace("outer", dwarftest.Namespace("inner", leaf))))

	if _, ok := cat.Lookup("outer::inner::Id"); !ok {
		t.Fatal("expected outer::inner::Id in catalogue")
	}
}
