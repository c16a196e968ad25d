package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Int64List stores a list of ids as a JSON array column.
type Int64List []int64

// Value implements driver.Valuer.
func (l Int64List) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("models: marshal id list: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *Int64List) Scan(src any) error {
	if src == nil {
		*l = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("models: scan id list: unsupported type %T", src)
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(data, l)
}

// SubtaskResult is the structured result of an ASSISTANT subtask. Content
// holds the rendered content; Streaming and Incomplete flag in-flight durable
// mirrors of a live stream.
type SubtaskResult struct {
	Content    string `json:"value"`
	Streaming  bool   `json:"streaming,omitempty"`
	Incomplete bool   `json:"incomplete,omitempty"`
}

// Value implements driver.Valuer.
func (r *SubtaskResult) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("models: marshal subtask result: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (r *SubtaskResult) Scan(src any) error {
	if src == nil {
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("models: scan subtask result: unsupported type %T", src)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, r)
}
