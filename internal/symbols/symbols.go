// Package symbols builds and queries the in-memory Jaithon symbol index.
//
// Definitions are found by scanning source text line by line; there is no
// parser. An Index is immutable once built and is published by a Store
// through a single pointer swap.
package symbols

import "fmt"

// Kind classifies a definition. The set is closed.
type Kind int

const (
	Function Kind = iota + 1
	Type
	Namespace
)

// KindFromKeyword maps a definition keyword to its Kind.
func KindFromKeyword(keyword string) (Kind, bool) {
	switch keyword {
	case "func":
		return Function, true
	case "class":
		return Type, true
	case "namespace":
		return Namespace, true
	}
	return 0, false
}

func (k Kind) String() string {
	switch k {
	case Function:
		return "function"
	case Type:
		return "type"
	case Namespace:
		return "namespace"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText renders the kind by name in JSON output.
func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case Function, Type, Namespace:
		return []byte(k.String()), nil
	}
	return nil, fmt.Errorf("invalid symbol kind %d", int(k))
}

// Definition is a named declaration found on one line of a file.
type Definition struct {
	Name   string `json:"name"`
	Kind   Kind   `json:"kind"`
	Line   int    `json:"line"`   // 0-indexed
	Column int    `json:"column"` // 0-indexed start of the name
}

// Location is where a definition lives.
type Location struct {
	Path   string `json:"path"` // absolute file path
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// Entry is the index record for one name. Kind comes from the first
// definition seen; Locations holds every definition in scan order.
type Entry struct {
	Kind      Kind       `json:"kind"`
	Locations []Location `json:"locations"`
}

// Candidate is a completion result.
type Candidate struct {
	Name     string   `json:"name"`
	Kind     Kind     `json:"kind"`
	Location Location `json:"location"`
}
