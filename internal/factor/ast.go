package factor

// NodeKind tags the variant carried by a Node (spec.md §9's
// "{Number, Column, Call{name,args}, BinOp{op,l,r}}").
type NodeKind int

const (
	NodeNumber NodeKind = iota
	NodeColumn
	NodeCall
	NodeBinOp
	NodeNeg
)

// Node is one AST node of a parsed factor expression.
type Node struct {
	Kind NodeKind

	// NodeNumber
	Value float64

	// NodeColumn
	Name string

	// NodeCall
	Args []*Node

	// NodeBinOp / NodeNeg
	Op    string
	Left  *Node
	Right *Node
}

// RawColumns are the bare identifiers that resolve to a stored panel rather
// than a function call (spec.md §4.1).
var RawColumns = map[string]bool{
	"close": true, "open": true, "high": true, "low": true,
	"volume": true, "amount": true, "turnover_rate": true,
	"pe": true, "pb": true,
}
