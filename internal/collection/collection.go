// Package collection answers how many members the bound collection has.
package collection

import (
	dErrors "objectmap/pkg/domain-errors"
)

// Static is a size oracle backed by configuration. The size is fixed at
// construction and never changes for the process lifetime.
type Static struct {
	size int
}

func NewStatic(size int) (*Static, error) {
	if size <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "collection size must be positive")
	}
	return &Static{size: size}, nil
}

func (s *Static) Size() int {
	return s.size
}
