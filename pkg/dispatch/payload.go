package dispatch

import (
	"encoding/json"
	"fmt"

	"mercator-hq/notifier/pkg/delta"
	"mercator-hq/notifier/pkg/rules"
)

type changesetPayload struct {
	Inserts []delta.Statement `json:"inserts"`
	Deletes []delta.Statement `json:"deletes"`
}

type genesisTriple struct {
	S string `json:"s"`
	P string `json:"p"`
	O string `json:"o"`
}

type genesisPayload struct {
	Delta struct {
		Inserts []genesisTriple `json:"inserts"`
		Deletes []genesisTriple `json:"deletes"`
	} `json:"delta"`
}

// Encode renders batch in the given resource format.
func Encode(format rules.ResourceFormat, batch *delta.Batch) ([]byte, error) {
	switch format {
	case rules.FormatV001:
		return encodeV001(batch)
	case rules.FormatGenesis:
		return encodeGenesis(batch)
	default:
		return nil, fmt.Errorf("unsupported resource format %q", format)
	}
}

// encodeV001 writes a bare JSON array. Receivers that need the format
// version read HeaderResourceFormat; nothing in the body names it.
func encodeV001(batch *delta.Batch) ([]byte, error) {
	groups := batch.Groups()
	out := make([]changesetPayload, len(groups))
	for i, g := range groups {
		out[i] = changesetPayload{
			Inserts: nonNil(g.Inserts),
			Deletes: nonNil(g.Deletes),
		}
	}
	return json.Marshal(out)
}

func encodeGenesis(batch *delta.Batch) ([]byte, error) {
	inserts, deletes := batch.Split()

	var p genesisPayload
	p.Delta.Inserts = flatten(inserts)
	p.Delta.Deletes = flatten(deletes)
	return json.Marshal(p)
}

func flatten(stmts []delta.Statement) []genesisTriple {
	out := make([]genesisTriple, len(stmts))
	for i, s := range stmts {
		out[i] = genesisTriple{S: value(s.Subject), P: value(s.Predicate), O: value(s.Object)}
	}
	return out
}

func value(t *delta.Term) string {
	if t == nil {
		return ""
	}
	return t.Value
}

func nonNil(stmts []delta.Statement) []delta.Statement {
	if stmts == nil {
		return []delta.Statement{}
	}
	return stmts
}

// changesetCount returns the number of distinct changesets in batch.
func changesetCount(batch *delta.Batch) int {
	seen := make(map[string]struct{})
	for _, e := range batch.Entries {
		seen[e.ChangesetID] = struct{}{}
	}
	return len(seen)
}
