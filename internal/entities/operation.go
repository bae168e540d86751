package entities

import (
	"fmt"
	"strings"
)

// Operation is one of the CRUD operations a rule can gate
type Operation string

const (
	OperationList   Operation = "list"
	OperationView   Operation = "view"
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Operations lists every operation in storage order
var Operations = []Operation{
	OperationList,
	OperationView,
	OperationCreate,
	OperationUpdate,
	OperationDelete,
}

// ParseOperation converts a name such as "view" into an Operation
func ParseOperation(name string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Operations {
		if op == known {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operation %q", name)
}

// IsFilter reports whether the operation's rule is translated into a
// storage-layer filter instead of being evaluated per record
func (o Operation) IsFilter() bool {
	return o == OperationList
}

func (o Operation) String() string {
	return string(o)
}
