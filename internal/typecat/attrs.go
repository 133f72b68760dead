package typecat

import "debug/dwarf"

func attrString(e *dwarf.Entry, attr dwarf.Attr) string {
	v, _ := e.Val(attr).(string)

	return v
}

func attrInt64(e *dwarf.Entry, attr dwarf.Attr) (int64, bool) {
	switch v := e.Val(attr).(type) {
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	default:
		return 0, false
	}
}

func attrOffset(e *dwarf.Entry, attr dwarf.Attr) (dwarf.Offset, bool) {
	v, ok := e.Val(attr).(dwarf.Offset)

	return v, ok
}
