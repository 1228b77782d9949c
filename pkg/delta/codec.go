package delta

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// nativeChangeset is the wire shape accepted on POST /changesets and NATS.
type nativeChangeset struct {
	ID         string      `json:"id,omitempty"`
	Origin     string      `json:"origin,omitempty"`
	Direction  string      `json:"direction"`
	Statements []Statement `json:"statements"`
}

// muChangeSet is one element of a mu-style delta body. Both the singular
// keys of the store notification and the plural keys of the v0.0.1 callback
// format are accepted.
type muChangeSet struct {
	Insert  []Statement `json:"insert"`
	Delete  []Statement `json:"delete"`
	Inserts []Statement `json:"inserts"`
	Deletes []Statement `json:"deletes"`
}

type muBody struct {
	ChangeSets []muChangeSet `json:"changeSets"`
}

// DecodeNative decodes a single native changeset object or an array of them.
func DecodeNative(data []byte) ([]*Changeset, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, NewDecodeError("native", -1, errors.New("empty body"))
	}

	var raw []nativeChangeset
	if data[0] == '[' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, NewDecodeError("native", -1, err)
		}
	} else {
		var one nativeChangeset
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, NewDecodeError("native", -1, err)
		}
		raw = []nativeChangeset{one}
	}

	out := make([]*Changeset, 0, len(raw))
	for i, r := range raw {
		dir, err := ParseDirection(r.Direction)
		if err != nil {
			return nil, NewDecodeError("native", i, err)
		}
		out = append(out, &Changeset{
			ID:         r.ID,
			Origin:     r.Origin,
			Direction:  dir,
			Statements: r.Statements,
		})
	}
	return out, nil
}

// EncodeNative renders sets as a native array, the shape DecodeNative reads
// and publishers put on the NATS subject.
func EncodeNative(sets []*Changeset) ([]byte, error) {
	raw := make([]nativeChangeset, len(sets))
	for i, cs := range sets {
		raw[i] = nativeChangeset{
			ID:         cs.ID,
			Origin:     cs.Origin,
			Direction:  string(cs.Direction),
			Statements: cs.Statements,
		}
	}
	return json.Marshal(raw)
}

// DecodeMu decodes a mu-style delta body. Each element yields up to two
// changesets, inserts first, all carrying origin. Empty lists are skipped.
func DecodeMu(data []byte, origin string) ([]*Changeset, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, NewDecodeError("mu", -1, errors.New("empty body"))
	}

	var sets []muChangeSet
	if data[0] == '[' {
		if err := json.Unmarshal(data, &sets); err != nil {
			return nil, NewDecodeError("mu", -1, err)
		}
	} else {
		var body muBody
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, NewDecodeError("mu", -1, err)
		}
		sets = body.ChangeSets
	}

	var out []*Changeset
	for _, set := range sets {
		inserts := append(set.Insert, set.Inserts...)
		deletes := append(set.Delete, set.Deletes...)
		if len(inserts) > 0 {
			out = append(out, &Changeset{Origin: origin, Direction: Insert, Statements: inserts})
		}
		if len(deletes) > 0 {
			out = append(out, &Changeset{Origin: origin, Direction: Delete, Statements: deletes})
		}
	}
	return out, nil
}

// Stamp assigns an ID (when missing) and the receive time.
func Stamp(cs *Changeset, now time.Time) {
	if cs.ID == "" {
		cs.ID = uuid.NewString()
	}
	cs.ReceivedAt = now
}
