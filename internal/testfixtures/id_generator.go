package testfixtures

import (
	"fmt"
	"sync/atomic"
)

// IDGenerator yields "<prefix>-1", "<prefix>-2", ... and is safe for
// concurrent use by services under test.
type IDGenerator struct {
	prefix string
	issued atomic.Uint64
}

// NewIDGenerator uses "id" when prefix is empty.
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &IDGenerator{prefix: prefix}
}

func (g *IDGenerator) Next() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.issued.Add(1))
}

// NextFunc adapts Next to application.Runtime.IDGenerator.
func (g *IDGenerator) NextFunc() func() string {
	return g.Next
}

// Issued reports how many identifiers have been handed out.
func (g *IDGenerator) Issued() int {
	return int(g.issued.Load())
}
