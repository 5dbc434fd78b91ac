package sync

import (
	"context"
	"fmt"
	"sort"
	stdsync "sync"
)

// ScanFunc reads one origin location into an OriginContent.
type ScanFunc func(ctx context.Context, location Location) (*OriginContent, error)

var (
	scanners = make(map[string]ScanFunc)
	mu       stdsync.RWMutex
)

// RegisterOrigin adds an origin scanner under a kind ("obs", "apt").
// Scanners register themselves in init(); import the package to enable one.
func RegisterOrigin(kind string, scan ScanFunc) {
	mu.Lock()
	defer mu.Unlock()
	scanners[kind] = scan
}

// ScanOrigin scans a location with the registered scanner for kind.
func ScanOrigin(ctx context.Context, kind string, location Location) (*OriginContent, error) {
	mu.RLock()
	scan, ok := scanners[kind]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrigin, kind)
	}
	return scan(ctx, location)
}

// SupportedOrigins returns all registered origin kinds, sorted.
// Note: origins must be imported to be registered.
func SupportedOrigins() []string {
	mu.RLock()
	defer mu.RUnlock()

	kinds := make([]string, 0, len(scanners))
	for kind := range scanners {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
