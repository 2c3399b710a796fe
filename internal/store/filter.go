package store

// Op is a predicate operator.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpContains // set or list membership
	OpMissing  // attribute absent
	OpExists
	OpOr
)

// Cond is a single predicate over a document field. OpOr conditions carry
// their alternatives in Any and ignore Field and Value.
type Cond struct {
	Op    Op
	Field string
	Value any
	Any   []Cond
}

// Filter is a conjunction of conditions.
type Filter []Cond

func Eq(field string, v any) Cond       { return Cond{Op: OpEq, Field: field, Value: v} }
func Ne(field string, v any) Cond       { return Cond{Op: OpNe, Field: field, Value: v} }
func Lt(field string, v any) Cond       { return Cond{Op: OpLt, Field: field, Value: v} }
func Contains(field string, v any) Cond { return Cond{Op: OpContains, Field: field, Value: v} }
func Missing(field string) Cond         { return Cond{Op: OpMissing, Field: field} }
func Exists(field string) Cond          { return Cond{Op: OpExists, Field: field} }
func Or(conds ...Cond) Cond             { return Cond{Op: OpOr, Any: conds} }

// Where builds a Filter from conditions.
func Where(conds ...Cond) Filter { return Filter(conds) }

// EqValue returns the value of the first top-level equality condition on field.
func (f Filter) EqValue(field string) (any, bool) {
	for _, c := range f {
		if c.Op == OpEq && c.Field == field {
			return c.Value, true
		}
	}
	return nil, false
}

// Without returns the filter minus top-level equality conditions on fields.
func (f Filter) Without(fields ...string) Filter {
	out := make(Filter, 0, len(f))
outer:
	for _, c := range f {
		if c.Op == OpEq {
			for _, name := range fields {
				if c.Field == name {
					continue outer
				}
			}
		}
		out = append(out, c)
	}
	return out
}
