// Package render turns a decoded frame's raw payload bytes into its
// textual representation, walking a typecat.Descriptor the same way
// internal/typecat walked the DWARF DIE it was built from: scalars decode
// directly, aggregates recurse field-by-field at an accumulated byte
// offset, tagged unions dispatch on a discriminant read from the payload
// itself, and references print a pointer-style marker before recursing
// into the pointee using the same backing slice (the payload carries the
// pointee's bytes inline, not a target address to dereference).
package render

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/fasthosting/log0/internal/ferr"
	"github.com/fasthosting/log0/internal/typecat"
)

// Value renders the descriptor ref resolves to, decoding buf as that
// type's in-memory layout, and writes the result to w.
//
// A scalar whose buffer holds fewer bytes than its declared size is a
// schema mismatch between the target binary and the frame it produced:
// fatal, reported through ferr's render category. Bytes beyond a
// scalar's declared size are ignored, not reported; aggregate fields are
// rendered from the rest of the buffer starting at their offset. A reference
// to a descriptor the catalogue never resolved (cat.Get would be handed a
// zero-value ref) cannot happen through Build's own output, since every
// Ref the builder hands out is reserved before use; this function trusts
// that invariant rather than re-checking it on every call.
func Value(w io.Writer, ref typecat.DescriptorRef, cat *typecat.Catalogue, buf []byte) error {
	d := cat.Get(ref)

	switch d.Kind {
	case typecat.KindScalar:
		return renderScalar(w, d, buf)

	case typecat.KindAggregateNamed:
		return renderNamed(w, d, cat, buf)

	case typecat.KindAggregateTuple:
		return renderTuple(w, d, cat, buf)

	case typecat.KindTaggedUnion:
		return renderTaggedUnion(w, d, cat, buf)

	case typecat.KindReference:
		return renderReference(w, d, cat, buf)

	case typecat.KindPlainVariant:
		_, err := io.WriteString(w, d.QualifiedName())
		return err

	default: // KindOpaque
		_, err := fmt.Fprintf(w, "<opaque %s>", d.QualifiedName())
		return err
	}
}

func renderScalar(w io.Writer, d *typecat.Descriptor, buf []byte) error {
	if d.ScalarKind == typecat.ScalarZeroSized {
		_, err := io.WriteString(w, "()")
		return err
	}

	if len(buf) < d.SizeBytes {
		return ferr.Renderf("SHORT_BUFFER", "scalar %s needs %d bytes, got %d", d.QualifiedName(), d.SizeBytes, len(buf))
	}

	buf = buf[:d.SizeBytes]

	switch d.ScalarKind {
	case typecat.ScalarBool:
		switch buf[0] {
		case 0:
			return writeString(w, "false")
		case 1:
			return writeString(w, "true")
		default:
			return ferr.Renderf("BAD_BOOL", "bool %s holds byte 0x%02x, want 0 or 1", d.QualifiedName(), buf[0])
		}

	case typecat.ScalarChar:
		return writeString(w, fmt.Sprintf("%c", rune(decodeUnsigned(buf))))

	case typecat.ScalarFloat:
		switch d.SizeBytes {
		case 4:
			return writeString(w, fmt.Sprintf("%v", math.Float32frombits(uint32(decodeUnsigned(buf)))))
		case 8:
			return writeString(w, fmt.Sprintf("%v", math.Float64frombits(decodeUnsigned(buf))))
		default:
			return ferr.Renderf("BAD_FLOAT_SIZE", "floating point scalar %s at %d bytes is not representable", d.QualifiedName(), d.SizeBytes)
		}

	case typecat.ScalarSigned:
		return writeString(w, fmt.Sprintf("%d", decodeSigned(buf)))

	default: // ScalarUnsigned
		return writeString(w, fmt.Sprintf("%d", decodeUnsigned(buf)))
	}
}

func renderNamed(w io.Writer, d *typecat.Descriptor, cat *typecat.Catalogue, buf []byte) error {
	if _, err := io.WriteString(w, d.QualifiedName()+" "); err != nil {
		return err
	}

	return renderNamedFields(w, d, cat, buf)
}

// renderNamedFields writes a named aggregate's `{ field: value, … }` body
// without the descriptor's own name prefix, so a tagged union's variant
// arm (which already printed "Name::Variant") can render straight into
// the same braces instead of nesting a second, redundant name inside
// them. See renderTaggedUnion.
func renderNamedFields(w io.Writer, d *typecat.Descriptor, cat *typecat.Catalogue, buf []byte) error {
	names := make([]string, 0, len(d.NamedFields))
	for name := range d.NamedFields {
		names = append(names, name)
	}

	sort.Strings(names)

	if _, err := io.WriteString(w, "{ "); err != nil {
		return err
	}

	for i, name := range names {
		if i > 0 {
			if _, err := io.WriteString(w, ", "); err != nil {
				return err
			}
		}

		f := d.NamedFields[name]

		if _, err := fmt.Fprintf(w, "%s: ", name); err != nil {
			return err
		}

		if err := renderField(w, f, cat, buf); err != nil {
			return err
		}
	}

	_, err := io.WriteString(w, " }")

	return err
}

func renderTuple(w io.Writer, d *typecat.Descriptor, cat *typecat.Catalogue, buf []byte) error {
	if _, err := io.WriteString(w, d.QualifiedName()); err != nil {
		return err
	}

	return renderTupleFields(w, d, cat, buf)
}

// renderTupleFields writes a tuple-like aggregate's `(value, value, …)`
// body without the descriptor's own name prefix. See renderNamedFields.
func renderTupleFields(w io.Writer, d *typecat.Descriptor, cat *typecat.Catalogue, buf []byte) error {
	if _, err := io.WriteString(w, "("); err != nil {
		return err
	}

	for i, f := range d.IndexedFields {
		if i > 0 {
			if _, err := io.WriteString(w, ", "); err != nil {
				return err
			}
		}

		if err := renderField(w, f, cat, buf); err != nil {
			return err
		}
	}

	_, err := io.WriteString(w, ")")

	return err
}

func renderField(w io.Writer, f typecat.Field, cat *typecat.Catalogue, buf []byte) error {
	off := f.ByteOffset
	if off < 0 || off > int64(len(buf)) {
		return ferr.Renderf("FIELD_OFFSET_OOB", "field offset %d out of range for a %d-byte buffer", off, len(buf))
	}

	return Value(w, f.Ref, cat, buf[off:])
}

// renderTaggedUnion reads the discriminant at d.DiscriminantOffset,
// picks the matching arm out of d.Variants, and renders that arm's
// payload from the same buf: the payload occupies the bytes after the
// discriminant, so no extra offset bookkeeping is needed beyond what
// Variant's ByteOffset already encodes.
func renderTaggedUnion(w io.Writer, d *typecat.Descriptor, cat *typecat.Catalogue, buf []byte) error {
	end := d.DiscriminantOffset + int64(d.DiscriminantSize)
	if d.DiscriminantOffset < 0 || end > int64(len(buf)) {
		return ferr.Renderf("DISCRIMINANT_OOB", "tagged union %s: discriminant at [%d,%d) out of range for a %d-byte buffer", d.QualifiedName(), d.DiscriminantOffset, end, len(buf))
	}

	discr := decodeUnsigned(buf[d.DiscriminantOffset:end])

	variant, ok := d.Variants[discr]
	if !ok {
		return ferr.Renderf("UNKNOWN_DISCRIMINANT", "tagged union %s: discriminant value %d matches no known variant", d.QualifiedName(), discr)
	}

	if _, err := fmt.Fprintf(w, "%s::", d.QualifiedName()); err != nil {
		return err
	}

	if variant.Name == "" {
		_, err := io.WriteString(w, "<unnamed variant>")
		return err
	}

	if _, err := io.WriteString(w, variant.Name); err != nil {
		return err
	}

	payload := cat.Get(variant.Ref)
	if payload.Kind == typecat.KindPlainVariant && len(payload.NamedFields) == 0 && len(payload.IndexedFields) == 0 {
		return nil
	}

	if variant.ByteOffset < 0 || variant.ByteOffset > int64(len(buf)) {
		return ferr.Renderf("VARIANT_OFFSET_OOB", "tagged union %s: variant %q payload offset %d out of range for a %d-byte buffer", d.QualifiedName(), variant.Name, variant.ByteOffset, len(buf))
	}

	vbuf := buf[variant.ByteOffset:]

	// The inhabited arm renders as "Name::Variant { … }": an aggregate payload's own
	// braces/parens follow the variant name directly, with no extra
	// wrapper layered on top (that would double the payload's own name,
	// e.g. "Outer::B(B { x: 42 })" instead of "Outer::B { x: 42 }").
	// Non-aggregate payloads (scalar, reference, opaque) have no
	// delimiters of their own, so those still get a parenthesized value.
	switch payload.Kind {
	case typecat.KindAggregateNamed:
		if _, err := io.WriteString(w, " "); err != nil {
			return err
		}

		return renderNamedFields(w, payload, cat, vbuf)

	case typecat.KindAggregateTuple:
		return renderTupleFields(w, payload, cat, vbuf)

	default:
		if _, err := io.WriteString(w, "("); err != nil {
			return err
		}

		if err := Value(w, variant.Ref, cat, vbuf); err != nil {
			return err
		}

		_, err := io.WriteString(w, ")")

		return err
	}
}

// renderReference prints a pointer marker and recurses into the pointee
// against the same slice: frames carry the pointee's bytes inline rather
// than a target-memory address to chase, so a reference in this model is
// really "here is an optional/boxed value", not a live pointer.
func renderReference(w io.Writer, d *typecat.Descriptor, cat *typecat.Catalogue, buf []byte) error {
	if _, err := io.WriteString(w, "*"); err != nil {
		return err
	}

	return Value(w, d.Pointee, cat, buf)
}

func decodeUnsigned(buf []byte) uint64 {
	switch len(buf) {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf))
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf))
	case 8:
		return binary.LittleEndian.Uint64(buf)
	default:
		var v uint64
		for i := len(buf) - 1; i >= 0; i-- {
			v = v<<8 | uint64(buf[i])
		}

		return v
	}
}

func decodeSigned(buf []byte) int64 {
	v := decodeUnsigned(buf)

	bits := uint(len(buf) * 8)
	if bits == 0 || bits >= 64 {
		return int64(v)
	}

	shift := 64 - bits
	return int64(v<<shift) >> shift
}

func writeString(w io.Writer, s string) error {
	_, err := io.WriteString(w, s)
	return err
}
