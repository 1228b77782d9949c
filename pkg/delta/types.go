package delta

import (
	"fmt"
	"time"
)

// Term is one position of a statement: a typed value such as a URI or a
// literal. Datatype and Lang are carried through to subscribers but do not
// take part in matching.
type Term struct {
	Type     string `json:"type" yaml:"type"`
	Value    string `json:"value" yaml:"value"`
	Datatype string `json:"datatype,omitempty" yaml:"datatype,omitempty"`
	Lang     string `json:"xml:lang,omitempty" yaml:"lang,omitempty"`
}

// Equal reports whether two terms have the same type and value.
func (t Term) Equal(o Term) bool {
	return t.Type == o.Type && t.Value == o.Value
}

// String renders the term in a compact, N-Triples-like form for logs.
func (t Term) String() string {
	switch t.Type {
	case "uri":
		return "<" + t.Value + ">"
	case "literal", "typed-literal":
		if t.Lang != "" {
			return fmt.Sprintf("%q@%s", t.Value, t.Lang)
		}
		if t.Datatype != "" {
			return fmt.Sprintf("%q^^<%s>", t.Value, t.Datatype)
		}
		return fmt.Sprintf("%q", t.Value)
	case "bnode":
		return "_:" + t.Value
	default:
		return t.Type + ":" + t.Value
	}
}

// URI returns a uri-typed term.
func URI(value string) *Term {
	return &Term{Type: "uri", Value: value}
}

// Literal returns a plain literal term.
func Literal(value string) *Term {
	return &Term{Type: "literal", Value: value}
}

// Statement is the atomic unit of change. A nil component marks a malformed
// statement coming from partial upstream data; it is carried but never
// matched against a concrete pattern component.
type Statement struct {
	Subject   *Term `json:"subject"`
	Predicate *Term `json:"predicate"`
	Object    *Term `json:"object"`
	Graph     *Term `json:"graph,omitempty"`
}

// Complete reports whether all three triple components are present.
func (s Statement) Complete() bool {
	return s.Subject != nil && s.Predicate != nil && s.Object != nil
}

// Empty reports whether no triple component is present.
func (s Statement) Empty() bool {
	return s.Subject == nil && s.Predicate == nil && s.Object == nil
}

// String renders the statement for logs.
func (s Statement) String() string {
	return fmt.Sprintf("%s %s %s", termString(s.Subject), termString(s.Predicate), termString(s.Object))
}

func termString(t *Term) string {
	if t == nil {
		return "?"
	}
	return t.String()
}

// Direction tags a changeset as an insertion or a deletion.
type Direction string

const (
	// Insert marks statements added to the store.
	Insert Direction = "insert"
	// Delete marks statements removed from the store.
	Delete Direction = "delete"
)

// ParseDirection accepts the singular and plural spellings used by
// upstream producers.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "insert", "inserts", "INSERT":
		return Insert, nil
	case "delete", "deletes", "DELETE":
		return Delete, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// Changeset is a batch of statements with one direction and an optional
// origin. It is immutable once received.
type Changeset struct {
	// ID is assigned at ingestion.
	ID string `json:"id"`

	// Origin identifies the producer. Empty means unknown.
	Origin string `json:"origin,omitempty"`

	Direction  Direction   `json:"direction"`
	Statements []Statement `json:"statements"`

	ReceivedAt time.Time `json:"received_at"`
}

// Len returns the number of statements in the changeset.
func (c *Changeset) Len() int {
	return len(c.Statements)
}
