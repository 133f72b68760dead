package typecat

import (
	"debug/dwarf"
	"strconv"
	"strings"

	"github.com/fasthosting/log0/internal/ferr"
)

// Build walks every compile unit in data and returns the resulting
// Catalogue. The walk is depth-first: namespaces push/pop a name prefix,
// structures drain their own member and variant_part children directly
// (they are never revisited generically), and every other tag is
// transparent: its children are still walked so that types nested
// inside, say, a subprogram are not missed, but the tag itself never
// becomes a descriptor.
//
// Cross references (DW_AT_type) are resolved through the same offset
// cache the top-level walk populates, so two fields that share a type
// collapse onto one arena slot, and a struct that reaches itself through
// a pointer terminates instead of recursing forever: the struct's own
// arena slot is reserved before its members are scanned, so a pointer
// back to it finds the cache entry rather than re-entering materialize.
func Build(data *dwarf.Data) (*Catalogue, error) {
	b := &builder{
		data:     data,
		cat:      &Catalogue{ByName: map[string]DescriptorRef{}},
		byOffset: map[dwarf.Offset]DescriptorRef{},
	}

	r := data.Reader()
	if err := b.walkForest(r); err != nil {
		return nil, err
	}

	return b.cat, nil
}

type builder struct {
	data      *dwarf.Data
	cat       *Catalogue
	byOffset  map[dwarf.Offset]DescriptorRef
	namespace []string
}

func (b *builder) walkForest(r *dwarf.Reader) error {
	for {
		e, err := r.Next()
		if err != nil {
			return ferr.Cataloguef("DWARF_READ", "%v", err)
		}

		if e == nil || e.Tag == 0 {
			return nil
		}

		switch e.Tag {
		case dwarf.TagCompileUnit:
			if e.Children {
				if err := b.walkForest(r); err != nil {
					return err
				}
			}

		case dwarf.TagNamespace:
			b.namespace = append(b.namespace, attrString(e, dwarf.AttrName))

			if e.Children {
				if err := b.walkForest(r); err != nil {
					return err
				}
			}

			b.namespace = b.namespace[:len(b.namespace)-1]

		case dwarf.TagBaseType, dwarf.TagStructType, dwarf.TagUnionType,
			dwarf.TagClassType, dwarf.TagPointerType, dwarf.TagReferenceType:
			ref, err := b.materialize(r, e)
			if err != nil {
				return err
			}

			if d := b.cat.Get(ref); d.Name != "" {
				b.cat.ByName[d.QualifiedName()] = ref
			}

		default:
			if e.Children {
				if err := b.walkForest(r); err != nil {
					return err
				}
			}
		}
	}
}

// materialize builds (or fetches, if already cached) the descriptor for
// the type DIE e, which r has just returned. Whoever calls materialize is
// responsible for nothing further; on return, r is positioned after e's
// entire subtree.
func (b *builder) materialize(r *dwarf.Reader, e *dwarf.Entry) (DescriptorRef, error) {
	if ref, ok := b.byOffset[e.Offset]; ok {
		if e.Children {
			r.SkipChildren()
		}

		return ref, nil
	}

	switch e.Tag {
	case dwarf.TagBaseType:
		ref, err := b.materializeBaseType(e)
		if e.Children {
			r.SkipChildren()
		}

		return ref, err

	case dwarf.TagPointerType, dwarf.TagReferenceType:
		return b.materializeReference(r, e)

	case dwarf.TagStructType, dwarf.TagUnionType, dwarf.TagClassType:
		return b.materializeStruct(r, e)

	default:
		ref := b.reserve(Descriptor{Kind: KindOpaque, Name: attrString(e, dwarf.AttrName), Namespace: b.namespaceCopy()})
		b.byOffset[e.Offset] = ref

		if e.Children {
			r.SkipChildren()
		}

		return ref, nil
	}
}

// materializeBaseType classifies a base_type DIE's DW_AT_encoding into a
// ScalarKind. A base_type missing name, byte_size or encoding is
// discarded as Opaque rather than failing the whole catalogue; a
// floating-point encoding at a size other than 4 or 8 bytes is not
// representable and fails the build outright.
func (b *builder) materializeBaseType(e *dwarf.Entry) (DescriptorRef, error) {
	name := attrString(e, dwarf.AttrName)
	byteSize, hasSize := attrInt64(e, dwarf.AttrByteSize)
	encoding, hasEncoding := attrInt64(e, dwarf.AttrEncoding)

	if name == "" || !hasSize || !hasEncoding {
		ref := b.reserve(Descriptor{Kind: KindOpaque, Name: name, Namespace: b.namespaceCopy()})
		b.byOffset[e.Offset] = ref

		return ref, nil
	}

	if byteSize == 0 {
		ref := b.reserve(Descriptor{
			Kind: KindScalar, ScalarKind: ScalarZeroSized,
			Name: name, Namespace: b.namespaceCopy(),
		})
		b.byOffset[e.Offset] = ref

		return ref, nil
	}

	var kind ScalarKind

	switch encoding {
	case ateBoolean:
		kind = ScalarBool
	case ateFloat:
		if byteSize != 4 && byteSize != 8 {
			return 0, ferr.Cataloguef("BAD_FLOAT_SIZE", "base type %q: floating point encoding at %d bytes is not representable", name, byteSize)
		}

		kind = ScalarFloat
	case ateSignedChar:
		kind = ScalarChar
	case ateSigned:
		kind = ScalarSigned
	case ateUnsignedChar:
		kind = ScalarChar
	case ateUnsigned, ateAddress:
		kind = ScalarUnsigned
	default:
		// Text and other exotic encodings currently render as opaque.
		ref := b.reserve(Descriptor{Kind: KindOpaque, Name: name, Namespace: b.namespaceCopy()})
		b.byOffset[e.Offset] = ref

		return ref, nil
	}

	ref := b.reserve(Descriptor{
		Kind: KindScalar, ScalarKind: kind, SizeBytes: int(byteSize),
		Name: name, Namespace: b.namespaceCopy(),
	})
	b.byOffset[e.Offset] = ref

	return ref, nil
}

func (b *builder) materializeReference(r *dwarf.Reader, e *dwarf.Entry) (DescriptorRef, error) {
	ref := b.reserve(Descriptor{Kind: KindReference, Namespace: b.namespaceCopy()})
	b.byOffset[e.Offset] = ref

	if e.Children {
		r.SkipChildren()
	}

	typeOff, ok := attrOffset(e, dwarf.AttrType)
	if !ok {
		b.cat.Get(ref).Pointee = b.reserveOpaque()

		return ref, nil
	}

	pointee, err := b.resolveOffset(typeOff)
	if err != nil {
		return 0, err
	}

	b.cat.Get(ref).Pointee = pointee

	return ref, nil
}

func (b *builder) materializeStruct(r *dwarf.Reader, e *dwarf.Entry) (DescriptorRef, error) {
	ref := b.reserve(Descriptor{Kind: KindPlainVariant, Name: attrString(e, dwarf.AttrName), Namespace: b.namespaceCopy()})
	b.byOffset[e.Offset] = ref

	if !e.Children {
		return ref, nil
	}

	named := map[string]Field{}
	indexed := map[int]Field{}

	var variants map[uint64]Variant

	var (
		discrByteOffset int64
		discrSize       int
	)

	hasVariants := false

	for {
		kid, err := r.Next()
		if err != nil {
			return 0, ferr.Cataloguef("DWARF_READ", "%v", err)
		}

		if kid == nil || kid.Tag == 0 {
			break
		}

		switch kid.Tag {
		case dwarf.TagMember:
			name := attrString(kid, dwarf.AttrName)
			byteOffset, _ := attrInt64(kid, dwarf.AttrDataMemberLoc)

			fref := b.reserveOpaque()
			if typeOff, ok := attrOffset(kid, dwarf.AttrType); ok {
				fref, err = b.resolveOffset(typeOff)
				if err != nil {
					return 0, err
				}
			}

			if kid.Children {
				r.SkipChildren()
			}

			if idx, ok := tupleIndex(name); ok {
				indexed[idx] = Field{Ref: fref, ByteOffset: byteOffset}
			} else {
				named[name] = Field{Ref: fref, ByteOffset: byteOffset}
			}

		case dwarf.TagVariantPart:
			hasVariants = true
			variants = map[uint64]Variant{}

			if discrOff, ok := attrOffset(kid, dwarf.AttrDiscr); ok {
				var err error

				discrByteOffset, discrSize, err = b.resolveMemberLayout(discrOff)
				if err != nil {
					return 0, err
				}
			}

			if kid.Children {
				if err := b.readVariants(r, variants); err != nil {
					return 0, err
				}
			}

		default:
			if kid.Children {
				r.SkipChildren()
			}
		}
	}

	d := b.cat.Get(ref)

	switch {
	case hasVariants:
		d.Kind = KindTaggedUnion
		d.DiscriminantOffset = discrByteOffset
		d.DiscriminantSize = discrSize
		d.Variants = variants
	case len(indexed) > 0:
		max := 0
		for i := range indexed {
			if i > max {
				max = i
			}
		}

		d.Kind = KindAggregateTuple
		d.IndexedFields = make([]Field, max+1)

		for i, f := range indexed {
			d.IndexedFields[i] = f
		}
	case len(named) > 0:
		d.Kind = KindAggregateNamed
		d.NamedFields = named
	default:
		d.Kind = KindPlainVariant
	}

	return ref, nil
}

// readVariants consumes a variant_part's variant children, each of which
// carries exactly one member describing the arm's payload type.
func (b *builder) readVariants(r *dwarf.Reader, out map[uint64]Variant) error {
	for {
		vkid, err := r.Next()
		if err != nil {
			return ferr.Cataloguef("DWARF_READ", "%v", err)
		}

		if vkid == nil || vkid.Tag == 0 {
			return nil
		}

		if vkid.Tag != dwarf.TagVariant {
			if vkid.Children {
				r.SkipChildren()
			}

			continue
		}

		discrValue, _ := attrInt64(vkid, dwarf.AttrDiscrValue)

		var (
			name       string
			ref        = b.reserveOpaque()
			byteOffset int64
		)

		if vkid.Children {
			for {
				m, err := r.Next()
				if err != nil {
					return ferr.Cataloguef("DWARF_READ", "%v", err)
				}

				if m == nil || m.Tag == 0 {
					break
				}

				if m.Tag != dwarf.TagMember {
					if m.Children {
						r.SkipChildren()
					}

					continue
				}

				name = attrString(m, dwarf.AttrName)
				byteOffset, _ = attrInt64(m, dwarf.AttrDataMemberLoc)

				if typeOff, ok := attrOffset(m, dwarf.AttrType); ok {
					ref, err = b.resolveOffset(typeOff)
					if err != nil {
						return err
					}
				}

				if m.Children {
					r.SkipChildren()
				}
			}
		}

		out[uint64(discrValue)] = Variant{Name: name, Ref: ref, ByteOffset: byteOffset}
	}
}

// resolveOffset materializes (or fetches) the descriptor a DW_AT_type
// reference points at, using a fresh reader seeked to the target offset
// so the caller's own reader position is undisturbed.
func (b *builder) resolveOffset(off dwarf.Offset) (DescriptorRef, error) {
	if ref, ok := b.byOffset[off]; ok {
		return ref, nil
	}

	r := b.data.Reader()
	r.Seek(off)

	e, err := r.Next()
	if err != nil {
		return 0, ferr.Cataloguef("DWARF_READ", "%v", err)
	}

	if e == nil {
		return b.reserveOpaque(), nil
	}

	return b.materialize(r, e)
}

// resolveMemberLayout resolves a DW_AT_discr reference (a member DIE) to
// its byte offset within the owning struct and the byte width of its
// declared type, defaulting to 8 when the type is absent or its size is
// not itself a plain scalar (DWARF does not require variant_part's discr
// target to be a base_type, but every real target emits one).
func (b *builder) resolveMemberLayout(off dwarf.Offset) (byteOffset int64, size int, err error) {
	r := b.data.Reader()
	r.Seek(off)

	e, err := r.Next()
	if err != nil {
		return 0, 0, ferr.Cataloguef("DWARF_READ", "%v", err)
	}

	if e == nil {
		return 0, 8, nil
	}

	byteOffset, _ = attrInt64(e, dwarf.AttrDataMemberLoc)

	size = 8

	if typeOff, ok := attrOffset(e, dwarf.AttrType); ok {
		ref, rerr := b.resolveOffset(typeOff)
		if rerr != nil {
			return 0, 0, rerr
		}

		if d := b.cat.Get(ref); d.Kind == KindScalar && d.SizeBytes > 0 {
			size = d.SizeBytes
		}
	}

	return byteOffset, size, nil
}

func (b *builder) reserve(d Descriptor) DescriptorRef {
	b.cat.arena = append(b.cat.arena, d)

	return DescriptorRef(len(b.cat.arena) - 1)
}

func (b *builder) reserveOpaque() DescriptorRef {
	return b.reserve(Descriptor{Kind: KindOpaque})
}

func (b *builder) namespaceCopy() []string {
	if len(b.namespace) == 0 {
		return nil
	}

	return append([]string(nil), b.namespace...)
}

// tupleIndex recognizes Rust-style positional tuple field names ("__0",
// "__1", ...).
func tupleIndex(name string) (int, bool) {
	if !strings.HasPrefix(name, "__") {
		return 0, false
	}

	idx, err := strconv.Atoi(name[2:])
	if err != nil || idx < 0 {
		return 0, false
	}

	return idx, true
}
