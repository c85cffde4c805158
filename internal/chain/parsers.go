package chain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
)

// ParseArray extracts an array of StackItems from a parent StackItem.
func ParseArray(item StackItem) ([]StackItem, error) {
	if item.Type != "Array" && item.Type != "Struct" {
		return nil, fmt.Errorf("expected Array or Struct, got %s", item.Type)
	}

	var items []StackItem
	if err := json.Unmarshal(item.Value, &items); err != nil {
		return nil, fmt.Errorf("unmarshal array: %w", err)
	}
	return items, nil
}

// ParseInteger parses an integer stack item.
func ParseInteger(item StackItem) (*big.Int, error) {
	if item.Type == "Integer" {
		var value string
		if err := json.Unmarshal(item.Value, &value); err != nil {
			return nil, err
		}
		n, ok := new(big.Int).SetString(value, 10)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", value)
		}
		return n, nil
	}
	return nil, fmt.Errorf("unexpected type: %s", item.Type)
}

// ParseString parses a string stack item. ByteString values arrive
// base64-encoded from the RPC node.
func ParseString(item StackItem) (string, error) {
	switch item.Type {
	case "ByteString", "Buffer":
		var value string
		if err := json.Unmarshal(item.Value, &value); err != nil {
			return "", err
		}
		decoded, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return "", fmt.Errorf("decode bytestring: %w", err)
		}
		return string(decoded), nil
	case "Null":
		return "", nil
	}
	return "", fmt.Errorf("unexpected type: %s", item.Type)
}

// ParseBoolean parses a boolean stack item.
func ParseBoolean(item StackItem) (bool, error) {
	if item.Type == "Boolean" {
		var value bool
		if err := json.Unmarshal(item.Value, &value); err != nil {
			return false, err
		}
		return value, nil
	}
	return false, fmt.Errorf("unexpected type: %s", item.Type)
}
