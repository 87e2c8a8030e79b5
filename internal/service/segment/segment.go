// Package segment groups speaker-tagged speech tokens into contiguous speaker segments.
package segment

import (
	"fmt"
	"sync/atomic"
)

// Generator hands out process-unique segment ids.
type Generator struct {
	counter uint64
}

func New() *Generator {
	return &Generator{}
}

// Next returns "<sessionId>-seg-N". The counter is shared across sessions.
func (g *Generator) Next(sessionID string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-seg-%d", sessionID, n)
}
