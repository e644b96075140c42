package agenda

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Kind Kind            `json:"kind"`
	Item json.RawMessage `json:"item"`
}

// Marshal encodes an item together with its kind.
func Marshal(item Item) ([]byte, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s %s: %w", item.Kind(), item.Header().ID, err)
	}
	return json.Marshal(envelope{Kind: item.Kind(), Item: raw})
}

// Unmarshal decodes an item written by Marshal.
func Unmarshal(data []byte) (Item, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse item envelope: %w", err)
	}
	item, err := New(env.Kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.Item, item); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", env.Kind, err)
	}
	return item, nil
}

// New returns an empty item of the given kind.
func New(kind Kind) (Item, error) {
	switch kind {
	case KindTask:
		return &Task{}, nil
	case KindEvent:
		return &Event{}, nil
	case KindReminder:
		return &Reminder{}, nil
	}
	return nil, fmt.Errorf("unknown item kind %q", kind)
}
