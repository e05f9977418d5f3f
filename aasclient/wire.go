package aasclient

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/aas"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
)

// page is the paged envelope of the AAS HTTP API. Older servers return a
// bare array instead.
type page struct {
	Result json.RawMessage `json:"result"`
	Paging struct {
		Cursor string `json:"cursor"`
	} `json:"paging_metadata"`
}

func decodePage[T any](data []byte) ([]T, string, error) {
	data = bytes.TrimSpace(data)
	var items []T
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, "", fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
		return items, "", nil
	}

	var p page
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, "", fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
	}
	if len(p.Result) > 0 {
		if err := json.Unmarshal(p.Result, &items); err != nil {
			return nil, "", fmt.Errorf("%w: result: %v", errors.ErrParsingFailed, err)
		}
	}
	return items, p.Paging.Cursor, nil
}

// expandElements moves the children of collections and lists, which the
// wire format carries in "value", into Children.
func expandElements(elems []*aas.SubmodelElement) error {
	for _, e := range elems {
		if e == nil || !e.Kind.IsContainer() {
			continue
		}
		if len(e.Value) > 0 && !bytes.Equal(bytes.TrimSpace(e.Value), []byte("null")) {
			var children []*aas.SubmodelElement
			if err := json.Unmarshal(e.Value, &children); err != nil {
				return fmt.Errorf("%w: children of %s: %v", errors.ErrParsingFailed, e.IDShort, err)
			}
			e.Children = children
		}
		e.Value = nil
		if err := expandElements(e.Children); err != nil {
			return err
		}
	}
	return nil
}
