package store

import (
	"encoding/json"
	"fmt"

	"github.com/livetemplate/tinkerpen"
)

// Encode serializes a document set as an ordered JSON array of
// {id, name, language, content} records.
func Encode(docs tinkerpen.Set) ([]byte, error) {
	if docs == nil {
		docs = tinkerpen.Set{}
	}
	data, err := json.Marshal(docs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode documents: %w", err)
	}
	return data, nil
}

// Decode parses and validates a serialized document set.
func Decode(data []byte) (tinkerpen.Set, error) {
	var docs tinkerpen.Set
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}
	if err := docs.Validate(); err != nil {
		return nil, err
	}
	return docs, nil
}
