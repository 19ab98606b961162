package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Operation identifies the kind of change carried by an Envelope.
type Operation int

const (
	OpDelete Operation = 1
	OpChange Operation = 2
	OpCreate Operation = 3
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	return op == OpDelete || op == OpChange || op == OpCreate
}

// HasItem reports whether envelopes of this operation carry an item payload.
func (op Operation) HasItem() bool {
	return op == OpChange || op == OpCreate
}

func (op Operation) String() string {
	switch op {
	case OpDelete:
		return "DELETE"
	case OpChange:
		return "CHANGE"
	case OpCreate:
		return "CREATE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(op))
	}
}

// ID is an item identifier. Producers emit UUID strings, some emit plain
// numbers; the text and the JSON kind are kept as received.
type ID struct {
	value   string
	numeric bool
}

func StringID(s string) ID { return ID{value: s} }

func NumericID(n int64) ID { return ID{value: fmt.Sprintf("%d", n), numeric: true} }

func (id ID) String() string { return id.value }

func (id ID) IsZero() bool { return id.value == "" }

func (id ID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.value), nil
	}
	return json.Marshal(id.value)
}

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ID{}
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID{value: s}
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("id must be a string or number: %w", err)
		}
		*id = ID{value: n.String(), numeric: true}
		return nil
	}
}

// Item is the full item payload of CREATE and CHANGE envelopes.
// Fields not modelled here are kept in Extra and written back on encode.
type Item struct {
	ID          ID       `json:"id,omitzero"`
	Name        string   `json:"name"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price,omitempty"`
	Category    string   `json:"category,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

type itemFields Item

var itemKeys = []string{"id", "name", "description", "price", "category"}

func (it *Item) UnmarshalJSON(b []byte) error {
	var f itemFields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	for _, k := range itemKeys {
		delete(all, k)
	}
	if len(all) > 0 {
		f.Extra = all
	}
	*it = Item(f)
	return nil
}

func (it Item) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(itemFields(it))
	if err != nil || len(it.Extra) == 0 {
		return data, err
	}
	merged := make(map[string]json.RawMessage, len(it.Extra)+len(itemKeys))
	for k, v := range it.Extra {
		merged[k] = v
	}
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	return json.Marshal(merged)
}

// Clone returns a deep copy of the item.
func (it *Item) Clone() *Item {
	if it == nil {
		return nil
	}
	c := *it
	if it.Description != nil {
		d := *it.Description
		c.Description = &d
	}
	if it.Price != nil {
		p := *it.Price
		c.Price = &p
	}
	if it.Extra != nil {
		c.Extra = maps.Clone(it.Extra)
		for k, v := range c.Extra {
			c.Extra[k] = slices.Clone(v)
		}
	}
	return &c
}

// Envelope is one item-lifecycle event. Operation is the tag: CREATE and
// CHANGE carry Item, DELETE carries only ItemID.
type Envelope struct {
	Operation Operation
	ItemID    ID
	Item      *Item
}

// NewCreate builds a CREATE envelope keyed by the item's own id.
func NewCreate(item Item) *Envelope {
	return &Envelope{Operation: OpCreate, ItemID: item.ID, Item: &item}
}

func NewChange(id ID, item Item) *Envelope {
	return &Envelope{Operation: OpChange, ItemID: id, Item: &item}
}

func NewDelete(id ID) *Envelope {
	return &Envelope{Operation: OpDelete, ItemID: id}
}

// Identifier returns the best available identifier for logging.
func (e *Envelope) Identifier() string {
	if !e.ItemID.IsZero() {
		return e.ItemID.String()
	}
	if e.Item != nil {
		return e.Item.ID.String()
	}
	return ""
}

// Clone returns a deep copy of the envelope.
func (e *Envelope) Clone() *Envelope {
	c := *e
	c.Item = e.Item.Clone()
	return &c
}

// wireEnvelope is the JSON layout on the topic. The producing service writes
// operation_type; operation is accepted on decode.
type wireEnvelope struct {
	OperationType *Operation `json:"operation_type,omitempty"`
	Operation     *Operation `json:"operation,omitempty"`
	ItemID        ID         `json:"item_id,omitzero"`
	Item          *Item      `json:"item,omitempty"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	op := e.Operation
	return json.Marshal(wireEnvelope{OperationType: &op, ItemID: e.ItemID, Item: e.Item})
}

func (e *Envelope) UnmarshalJSON(b []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	var op Operation
	switch {
	case w.OperationType != nil:
		op = *w.OperationType
	case w.Operation != nil:
		op = *w.Operation
	}
	*e = Envelope{Operation: op, ItemID: w.ItemID, Item: w.Item}
	return nil
}

// Decode parses a raw record value into an Envelope.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return &e, nil
}

// Encode serializes an Envelope for the topic.
func Encode(e *Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}
