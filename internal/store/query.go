package store

// Op is a query comparison operator.
type Op string

const (
	OpEq       Op = "=="
	OpIn       Op = "in"
	OpLt       Op = "<"
	OpLte      Op = "<="
	OpGt       Op = ">"
	OpGte      Op = ">="
	OpContains Op = "array-contains"
)

// Condition is a single field comparison; conditions compose conjunctively.
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Ordering sorts results by a field.
type Ordering struct {
	Field string
	Desc  bool
}

// Query describes a filtered, ordered, bounded read over one collection.
// The zero value matches every document.
type Query struct {
	Conditions []Condition
	Orders     []Ordering
	LimitN     int
}

// Q returns an empty query to build on.
func Q() Query {
	return Query{}
}

// Where appends a field condition.
func (q Query) Where(field string, op Op, value any) Query {
	q.Conditions = append(q.Conditions[:len(q.Conditions):len(q.Conditions)], Condition{Field: field, Op: op, Value: value})
	return q
}

// OrderBy appends a sort ordering.
func (q Query) OrderBy(field string, desc bool) Query {
	q.Orders = append(q.Orders[:len(q.Orders):len(q.Orders)], Ordering{Field: field, Desc: desc})
	return q
}

// Limit caps the result count. Zero means no limit.
func (q Query) Limit(n int) Query {
	q.LimitN = n
	return q
}
