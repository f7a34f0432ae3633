package forecast

import (
	"encoding/json"
	"fmt"
)

// Shape identifies which supported layout a response used.
type Shape int

const (
	// ShapeFlatList is a bare array of numbers.
	ShapeFlatList Shape = iota + 1
	// ShapePredictionList is {"predictions": [numbers]}.
	ShapePredictionList
	// ShapeNestedMean is {"predictions": [{"mean": [numbers]}]}.
	ShapeNestedMean
)

func (s Shape) String() string {
	switch s {
	case ShapeFlatList:
		return "flat_list"
	case ShapePredictionList:
		return "prediction_list"
	case ShapeNestedMean:
		return "nested_mean"
	default:
		return "unknown"
	}
}

// Response is a decoded forecast with the shape it arrived in.
type Response struct {
	Shape  Shape
	Values []float64
}

// UnrecognizedShapeError reports a response outside the supported shapes.
type UnrecognizedShapeError struct {
	Reason  string
	Snippet string
}

func (e *UnrecognizedShapeError) Error() string {
	return fmt.Sprintf("unrecognized forecast response shape: %s (%s)", e.Reason, e.Snippet)
}

// ParseResponse decodes raw into a Response. A JSON string holding one of the
// supported documents is unwrapped once.
func ParseResponse(raw []byte) (Response, error) {
	doc, err := decodeDocument(raw)
	if err != nil {
		return Response{}, err
	}

	switch v := doc.(type) {
	case []any:
		values, ok := numbers(v)
		if !ok {
			return Response{}, unrecognized("array holds non-numeric items", raw)
		}
		return Response{Shape: ShapeFlatList, Values: values}, nil
	case map[string]any:
		preds, ok := v["predictions"].([]any)
		if !ok {
			return Response{}, unrecognized(`object without a "predictions" array`, raw)
		}
		if values, ok := numbers(preds); ok {
			return Response{Shape: ShapePredictionList, Values: values}, nil
		}
		if len(preds) > 0 {
			if first, ok := preds[0].(map[string]any); ok {
				if mean, ok := first["mean"].([]any); ok {
					if values, ok := numbers(mean); ok {
						return Response{Shape: ShapeNestedMean, Values: values}, nil
					}
				}
			}
		}
		return Response{}, unrecognized("predictions are neither numbers nor mean objects", raw)
	default:
		return Response{}, unrecognized(fmt.Sprintf("top-level %T", doc), raw)
	}
}

// decodeDocument parses raw JSON, unwrapping a string-encoded document once.
func decodeDocument(raw []byte) (any, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, unrecognized("invalid json", raw)
	}
	if inner, ok := doc.(string); ok {
		if err := json.Unmarshal([]byte(inner), &doc); err != nil {
			return nil, unrecognized("string payload is not json", raw)
		}
		if _, still := doc.(string); still {
			return nil, unrecognized("doubly encoded string", raw)
		}
	}
	return doc, nil
}

func numbers(items []any) ([]float64, bool) {
	out := make([]float64, len(items))
	for i, item := range items {
		f, ok := item.(float64)
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

func unrecognized(reason string, raw []byte) *UnrecognizedShapeError {
	snippet := string(raw)
	if len(snippet) > 120 {
		snippet = snippet[:120] + "..."
	}
	return &UnrecognizedShapeError{Reason: reason, Snippet: snippet}
}
