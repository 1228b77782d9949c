package rules

// Table is the ordered, immutable rule set loaded at startup. Order carries
// no matching semantics; it is the tie-breaker for deterministic output.
// A Table is safe for concurrent reads without synchronization.
type Table struct {
	rules []Rule
	byID  map[string]int
}

// NewTable validates rules and returns a table holding deep copies of them.
// Any invalid rule fails the whole table.
func NewTable(rules []Rule) (*Table, error) {
	if err := Validate(rules); err != nil {
		return nil, err
	}

	t := &Table{
		rules: make([]Rule, len(rules)),
		byID:  make(map[string]int, len(rules)),
	}
	for i, r := range rules {
		t.rules[i] = r.clone()
		t.byID[r.ID] = i
	}
	return t, nil
}

// Len returns the number of rules.
func (t *Table) Len() int {
	return len(t.rules)
}

// At returns a copy of the i-th rule.
func (t *Table) At(i int) Rule {
	return t.rules[i].clone()
}

// Get returns a copy of the rule with the given ID.
func (t *Table) Get(id string) (Rule, bool) {
	i, ok := t.byID[id]
	if !ok {
		return Rule{}, false
	}
	return t.rules[i].clone(), true
}

// Rules returns copies of all rules in table order.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	for i, r := range t.rules {
		out[i] = r.clone()
	}
	return out
}

// IDs returns the rule IDs in table order.
func (t *Table) IDs() []string {
	ids := make([]string, len(t.rules))
	for i, r := range t.rules {
		ids[i] = r.ID
	}
	return ids
}
