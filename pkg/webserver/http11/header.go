package http11

// field is a single header line.
type field struct {
	name  string
	value string
}

// Header is an ordered list of header fields.
//
// Unlike http.Header it keeps the exact insertion order across names, which
// is also the order fields are serialized in. Repeated names keep every
// value. Lookup is ASCII case-insensitive per RFC 7230; the name is stored
// as given.
//
// The zero value is an empty header ready to use.
type Header struct {
	fields []field
}

// Add appends a field. Returns ErrInvalidHeader for an empty name or for a
// name or value containing CR or LF (response splitting).
func (h *Header) Add(name, value string) error {
	if err := validField(name, value); err != nil {
		return err
	}
	h.fields = append(h.fields, field{name: name, value: value})
	return nil
}

// Set replaces the first field with the given name and drops any later
// fields with the same name. The field is appended when absent.
func (h *Header) Set(name, value string) error {
	if err := validField(name, value); err != nil {
		return err
	}

	found := false
	kept := h.fields[:0]
	for _, f := range h.fields {
		if equalFold(f.name, name) {
			if found {
				continue
			}
			found = true
			f.value = value
		}
		kept = append(kept, f)
	}
	h.fields = kept

	if !found {
		h.fields = append(h.fields, field{name: name, value: value})
	}
	return nil
}

// Get returns the first value for name, or "" if absent.
func (h *Header) Get(name string) string {
	for _, f := range h.fields {
		if equalFold(f.name, name) {
			return f.value
		}
	}
	return ""
}

// Values returns every value for name in insertion order.
func (h *Header) Values(name string) []string {
	var out []string
	for _, f := range h.fields {
		if equalFold(f.name, name) {
			out = append(out, f.value)
		}
	}
	return out
}

// Has reports whether a field with the given name exists.
func (h *Header) Has(name string) bool {
	for _, f := range h.fields {
		if equalFold(f.name, name) {
			return true
		}
	}
	return false
}

// Del removes every field with the given name.
func (h *Header) Del(name string) {
	kept := h.fields[:0]
	for _, f := range h.fields {
		if !equalFold(f.name, name) {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}

// Len returns the number of fields.
func (h *Header) Len() int {
	return len(h.fields)
}

// VisitAll calls visitor for each field in insertion order.
// Iteration stops if visitor returns false.
func (h *Header) VisitAll(visitor func(name, value string) bool) {
	for _, f := range h.fields {
		if !visitor(f.name, f.value) {
			return
		}
	}
}

// Clone returns a deep copy.
func (h *Header) Clone() Header {
	if len(h.fields) == 0 {
		return Header{}
	}
	fields := make([]field, len(h.fields))
	copy(fields, h.fields)
	return Header{fields: fields}
}

// Reset removes every field.
func (h *Header) Reset() {
	h.fields = h.fields[:0]
}

func validField(name, value string) error {
	if name == "" {
		return ErrInvalidHeader
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '\r' || name[i] == '\n' {
			return ErrInvalidHeader
		}
	}
	for i := 0; i < len(value); i++ {
		if value[i] == '\r' || value[i] == '\n' {
			return ErrInvalidHeader
		}
	}
	return nil
}

// equalFold compares two ASCII strings case-insensitively.
// Header names are ASCII tokens so this avoids strings.EqualFold's Unicode folding.
func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		if toLower(a[i]) != toLower(b[i]) {
			return false
		}
	}
	return true
}

func toLower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + 32
	}
	return b
}
