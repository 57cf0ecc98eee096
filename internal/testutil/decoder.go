package testutil

import (
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/cashutrack/internal/token"
)

// MapDecoder resolves funding sources from a fixed payload table, so engine
// tests can use short readable payloads instead of encoded tokens.
//
// Payloads of the form "<source>|<anything>" resolve to <source> without
// registration.
type MapDecoder struct {
	mu      sync.Mutex
	sources map[string]string
}

// NewMapDecoder creates a decoder from payload -> funding source pairs.
func NewMapDecoder(sources map[string]string) *MapDecoder {
	m := make(map[string]string, len(sources))
	for k, v := range sources {
		m[k] = v
	}
	return &MapDecoder{sources: m}
}

// Set registers or replaces one payload.
func (d *MapDecoder) Set(payload, source string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sources[payload] = source
}

// FundingSource returns the registered source or token.ErrInvalidPayload.
func (d *MapDecoder) FundingSource(payload string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if source, ok := d.sources[payload]; ok {
		return source, nil
	}
	if source, _, ok := strings.Cut(payload, "|"); ok && source != "" {
		return source, nil
	}
	return "", fmt.Errorf("%w: unknown test payload %q", token.ErrInvalidPayload, payload)
}

// SourceOf is FundingSource without the error, for ScriptedOracle.GroupBy.
func (d *MapDecoder) SourceOf(payload string) string {
	source, _ := d.FundingSource(payload)
	return source
}
