package mcp

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// ResultShape describes which variant of a tools/call result was decoded
type ResultShape int

const (
	// ShapeValue is a result that is not an object, returned as-is
	ShapeValue ResultShape = iota
	// ShapeStructured is an object without content, returned as-is
	ShapeStructured
	// ShapeContent is a content member that is not a non-empty list
	ShapeContent
	// ShapeContentItem is a first content item that is not an object
	ShapeContentItem
	// ShapeContentJSON is a first content item whose text is JSON
	ShapeContentJSON
	// ShapeContentText is a first content item whose text is not JSON
	ShapeContentText
)

var shapeNames = map[ResultShape]string{
	ShapeValue:       "value",
	ShapeStructured:  "structured",
	ShapeContent:     "content",
	ShapeContentItem: "content_item",
	ShapeContentJSON: "content_json",
	ShapeContentText: "content_text",
}

func (s ResultShape) String() string {
	return shapeNames[s]
}

// ToolResult is the decoded result of a tools/call request
type ToolResult struct {
	Shape ResultShape
	Value any
}

// DecodeToolResult decodes the result member of a tools/call response.
//
// Precedence:
//  1. result that is not an object is returned as-is;
//  2. object without `content` is returned as-is;
//  3. `content` that is not a non-empty list is returned;
//  4. first content item that is not an object, or has a non-string
//     text, is returned verbatim;
//  5. text of the first item is parsed as JSON, or returned as {"text": raw}.
func DecodeToolResult(raw json.RawMessage) (*ToolResult, error) {
	if len(raw) == 0 {
		return &ToolResult{Shape: ShapeStructured, Value: map[string]any{}}, nil
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, errors.Wrap(err, "failed to decode tool result")
	}

	obj, ok := value.(map[string]any)
	if !ok {
		return &ToolResult{Shape: ShapeValue, Value: value}, nil
	}

	content, ok := obj["content"]
	if !ok {
		return &ToolResult{Shape: ShapeStructured, Value: obj}, nil
	}

	items, ok := content.([]any)
	if !ok || len(items) == 0 {
		return &ToolResult{Shape: ShapeContent, Value: content}, nil
	}

	first, ok := items[0].(map[string]any)
	if !ok {
		return &ToolResult{Shape: ShapeContentItem, Value: items[0]}, nil
	}

	text := "{}"
	if t, present := first["text"]; present {
		s, ok := t.(string)
		if !ok {
			return &ToolResult{Shape: ShapeContentItem, Value: first}, nil
		}
		text = s
	}

	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return &ToolResult{Shape: ShapeContentText, Value: map[string]any{"text": text}}, nil
	}
	return &ToolResult{Shape: ShapeContentJSON, Value: parsed}, nil
}
