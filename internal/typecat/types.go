// Package typecat builds a catalogue of type descriptors from a target
// executable's DWARF debug information, via a depth-first, namespace-aware
// walk over debug/elf + debug/dwarf.
package typecat

// Kind distinguishes the five descriptor variants a DWARF type DIE can
// resolve to, plus the PlainVariant case used for a tagged union's
// unit-like members and for childless structures.
type Kind int

const (
	KindScalar Kind = iota
	KindAggregateNamed
	KindAggregateTuple
	KindTaggedUnion
	KindReference
	KindOpaque
	KindPlainVariant
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindAggregateNamed:
		return "aggregate(named)"
	case KindAggregateTuple:
		return "aggregate(tuple)"
	case KindTaggedUnion:
		return "tagged-union"
	case KindReference:
		return "reference"
	case KindOpaque:
		return "opaque"
	case KindPlainVariant:
		return "plain-variant"
	default:
		return "unknown"
	}
}

// ScalarKind distinguishes a scalar descriptor's numeric representation.
type ScalarKind int

const (
	ScalarUnsigned ScalarKind = iota
	ScalarSigned
	ScalarFloat
	ScalarBool
	ScalarChar
	ScalarZeroSized
)

// DescriptorRef is a stable index into a Catalogue's descriptor arena.
// References use this instead of a pointer so that DWARF DAGs (two
// struct fields sharing a type) collapse onto one arena slot (see
// build.go's offset cache) and a self-referential type terminates
// instead of recursing forever.
type DescriptorRef int

// Field is one aggregate member: the descriptor of its type and its byte
// offset within the owning aggregate.
type Field struct {
	Ref        DescriptorRef
	ByteOffset int64
}

// Variant is one tagged-union arm: its payload descriptor and the byte
// offset within the owning union where that payload starts.
type Variant struct {
	Name       string
	Ref        DescriptorRef
	ByteOffset int64
}

// Descriptor is a node in the type graph. Only the fields relevant to
// Kind are meaningful; the comments on the field groups below say which.
type Descriptor struct {
	Name      string
	Namespace []string
	Kind      Kind

	// Scalar
	ScalarKind ScalarKind
	SizeBytes  int

	// Aggregate (named)
	NamedFields map[string]Field

	// Aggregate (tuple-like)
	IndexedFields []Field

	// Tagged union
	DiscriminantOffset int64
	DiscriminantSize   int
	Variants           map[uint64]Variant

	// Reference
	Pointee DescriptorRef
}

// QualifiedName joins Namespace and Name with "::", the fully-qualified
// form a target's type_table string entries use.
func (d *Descriptor) QualifiedName() string {
	if len(d.Namespace) == 0 {
		return d.displayName()
	}

	out := ""
	for _, ns := range d.Namespace {
		out += ns + "::"
	}

	return out + d.displayName()
}

func (d *Descriptor) displayName() string {
	if d.Name == "" {
		return "<unnamed type>"
	}

	return d.Name
}

// Catalogue is the read-only, address-agnostic mapping from a fully
// qualified type name to its top-level descriptor, plus the flat arena
// every DescriptorRef indexes into.
type Catalogue struct {
	arena  []Descriptor
	ByName map[string]DescriptorRef
}

// Get dereferences a DescriptorRef. It panics on an out-of-range ref,
// which can only happen on a programmer error (a ref from a different
// Catalogue) since the builder never hands out an unfilled ref.
func (c *Catalogue) Get(ref DescriptorRef) *Descriptor {
	return &c.arena[ref]
}

// Lookup resolves a fully qualified type name to its descriptor.
func (c *Catalogue) Lookup(name string) (DescriptorRef, bool) {
	ref, ok := c.ByName[name]

	return ref, ok
}

// Len returns the number of descriptors in the arena, mainly for tests
// and the snapshot dump.
func (c *Catalogue) Len() int { return len(c.arena) }
