package schema

// Record is one source row keyed by target field name. Field order is
// preserved so the validated stream can be serialized in schema order.
type Record struct {
	// Line is the 1-based input line number of the row in its source file.
	Line  int
	names []string
	vals  map[string]string
}

// NewRecord builds an empty record for the given field order.
func NewRecord(line int, names []string) *Record {
	return &Record{
		Line:  line,
		names: names,
		vals:  make(map[string]string, len(names)),
	}
}

// Names returns the field names in declared order.
func (r *Record) Names() []string {
	return r.names
}

// Set assigns a raw value to a field.
func (r *Record) Set(name, value string) {
	r.vals[name] = value
}

// Get returns a field's raw value and whether it was set.
func (r *Record) Get(name string) (string, bool) {
	v, ok := r.vals[name]
	return v, ok
}

// Values returns the raw values in declared field order. Unset fields yield
// empty strings.
func (r *Record) Values() []string {
	out := make([]string, len(r.names))
	for i, name := range r.names {
		out[i] = r.vals[name]
	}
	return out
}

// Map returns the record as a map for expression evaluation and logging.
func (r *Record) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(r.vals))
	for k, v := range r.vals {
		m[k] = v
	}
	return m
}
