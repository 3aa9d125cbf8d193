// Package display enumerates the displays that can be captured.
package display

import (
	"errors"
	"fmt"
	"sort"

	"screenshare/internal/types"
)

// Source is the native display query. capture.Backend implements it.
type Source interface {
	QueryDisplays() ([]types.Display, error)
}

// List queries the OS on every call and returns a fresh slice, primary
// display first and the rest by id.
func List(src Source) ([]types.Display, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: no display source", types.ErrPlatform)
	}
	ds, err := src.QueryDisplays()
	if err != nil {
		if errors.Is(err, types.ErrPlatform) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: display query: %w", types.ErrPlatform, err)
	}
	if len(ds) == 0 {
		return nil, fmt.Errorf("%w: no active displays", types.ErrPlatform)
	}

	out := make([]types.Display, len(ds))
	copy(out, ds)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Primary != out[j].Primary {
			return out[i].Primary
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Select returns displays[index].
func Select(displays []types.Display, index int) (types.Display, error) {
	if index < 0 || index >= len(displays) {
		return types.Display{}, fmt.Errorf("%w: index %d of %d", types.ErrDisplayNotFound, index, len(displays))
	}
	return displays[index], nil
}

// Find returns the display with the given id.
func Find(displays []types.Display, id uint32) (types.Display, error) {
	for _, d := range displays {
		if d.ID == id {
			return d, nil
		}
	}
	return types.Display{}, fmt.Errorf("%w: id %d", types.ErrDisplayNotFound, id)
}
