package sampling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var ErrListingNotFound = errors.New("architecture listing not found")

// ArchitectureListing enumerates hidden-layer size lists for enumeration mode.
type ArchitectureListing interface {
	Name() string
	ListArchitectures(ctx context.Context, params map[string]any) ([][]int, error)
}

// FullSpaceListing enumerates every hidden-layer tuple with between
// min_layers and max_layers layers and widths in [min_neurons, max_neurons].
type FullSpaceListing struct{}

func (FullSpaceListing) Name() string {
	return "full_space"
}

func (FullSpaceListing) ListArchitectures(ctx context.Context, params map[string]any) ([][]int, error) {
	minLayers, err := intParam(params, "min_layers")
	if err != nil {
		return nil, err
	}
	maxLayers, err := intParam(params, "max_layers")
	if err != nil {
		return nil, err
	}
	minNeurons, err := intParam(params, "min_neurons")
	if err != nil {
		return nil, err
	}
	maxNeurons, err := intParam(params, "max_neurons")
	if err != nil {
		return nil, err
	}
	if minLayers < 1 || maxLayers < minLayers {
		return nil, fmt.Errorf("invalid layer bounds [%d, %d]", minLayers, maxLayers)
	}
	if minNeurons < 1 || maxNeurons < minNeurons {
		return nil, fmt.Errorf("invalid neuron bounds [%d, %d]", minNeurons, maxNeurons)
	}

	var out [][]int
	for depth := minLayers; depth <= maxLayers; depth++ {
		current := make([]int, depth)
		for i := range current {
			current[i] = minNeurons
		}
		for {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out = append(out, append([]int(nil), current...))
			// odometer increment, last position fastest
			pos := depth - 1
			for pos >= 0 && current[pos] == maxNeurons {
				current[pos] = minNeurons
				pos--
			}
			if pos < 0 {
				break
			}
			current[pos]++
		}
	}
	return out, nil
}

var listingRegistry = struct {
	mu sync.RWMutex
	m  map[string]ArchitectureListing
}{
	m: map[string]ArchitectureListing{
		"full_space": FullSpaceListing{},
	},
}

func RegisterListing(listing ArchitectureListing) error {
	if listing == nil || listing.Name() == "" {
		return errors.New("named listing is required")
	}
	listingRegistry.mu.Lock()
	defer listingRegistry.mu.Unlock()
	if _, exists := listingRegistry.m[listing.Name()]; exists {
		return fmt.Errorf("listing already registered: %s", listing.Name())
	}
	listingRegistry.m[listing.Name()] = listing
	return nil
}

func ResolveListing(name string) (ArchitectureListing, error) {
	listingRegistry.mu.RLock()
	defer listingRegistry.mu.RUnlock()
	listing, ok := listingRegistry.m[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrListingNotFound, name)
	}
	return listing, nil
}

func intParam(params map[string]any, key string) (int, error) {
	switch v := params[key].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("listing param %q is required", key)
	}
}
