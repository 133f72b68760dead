package typecat

import "strconv"

// Snapshot is a JSON-serializable view of a Catalogue: a flat array
// keyed by arena index (so DescriptorRef values round-trip as plain
// integers) plus the name index.
type Snapshot struct {
	Descriptors []DescriptorSnapshot `json:"descriptors"`
	ByName      map[string]int       `json:"by_name"`
}

// DescriptorSnapshot mirrors Descriptor with only the fields relevant to
// its Kind populated, and DescriptorRef values rendered as plain ints.
type DescriptorSnapshot struct {
	Kind       string             `json:"kind"`
	Name       string             `json:"name,omitempty"`
	Namespace  []string           `json:"namespace,omitempty"`
	ScalarKind string             `json:"scalar_kind,omitempty"`
	SizeBytes  int                `json:"size_bytes,omitempty"`

	NamedFields   map[string]fieldSnapshot `json:"named_fields,omitempty"`
	IndexedFields []fieldSnapshot          `json:"indexed_fields,omitempty"`

	DiscriminantOffset int64                      `json:"discriminant_offset,omitempty"`
	DiscriminantSize   int                        `json:"discriminant_size,omitempty"`
	Variants           map[string]variantSnapshot `json:"variants,omitempty"`

	Pointee int `json:"pointee,omitempty"`
}

type fieldSnapshot struct {
	Ref        int   `json:"ref"`
	ByteOffset int64 `json:"byte_offset"`
}

type variantSnapshot struct {
	Name       string `json:"name"`
	Ref        int    `json:"ref"`
	ByteOffset int64  `json:"byte_offset"`
}

func scalarKindName(k ScalarKind) string {
	switch k {
	case ScalarUnsigned:
		return "unsigned"
	case ScalarSigned:
		return "signed"
	case ScalarFloat:
		return "float"
	case ScalarBool:
		return "bool"
	case ScalarChar:
		return "char"
	case ScalarZeroSized:
		return "zero-sized"
	default:
		return "unknown"
	}
}

// Snapshot exports the whole catalogue for the --dump-catalogue CLI path.
func (c *Catalogue) Snapshot() Snapshot {
	out := Snapshot{
		Descriptors: make([]DescriptorSnapshot, len(c.arena)),
		ByName:      make(map[string]int, len(c.ByName)),
	}

	for i, d := range c.arena {
		s := DescriptorSnapshot{
			Kind:               d.Kind.String(),
			Name:               d.Name,
			Namespace:          d.Namespace,
			ScalarKind:         scalarKindName(d.ScalarKind),
			SizeBytes:          d.SizeBytes,
			DiscriminantOffset: d.DiscriminantOffset,
			DiscriminantSize:   d.DiscriminantSize,
			Pointee:            int(d.Pointee),
		}

		if d.NamedFields != nil {
			s.NamedFields = make(map[string]fieldSnapshot, len(d.NamedFields))
			for name, f := range d.NamedFields {
				s.NamedFields[name] = fieldSnapshot{Ref: int(f.Ref), ByteOffset: f.ByteOffset}
			}
		}

		for _, f := range d.IndexedFields {
			s.IndexedFields = append(s.IndexedFields, fieldSnapshot{Ref: int(f.Ref), ByteOffset: f.ByteOffset})
		}

		if d.Variants != nil {
			s.Variants = make(map[string]variantSnapshot, len(d.Variants))
			for discr, v := range d.Variants {
				s.Variants[strconv.FormatUint(discr, 10)] = variantSnapshot{Name: v.Name, Ref: int(v.Ref), ByteOffset: v.ByteOffset}
			}
		}

		out.Descriptors[i] = s
	}

	for name, ref := range c.ByName {
		out.ByName[name] = int(ref)
	}

	return out
}

