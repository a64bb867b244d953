package utils

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Page size limits for list endpoints
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ParseUUID parses value as the named identifier
func ParseUUID(field, value string) (uuid.UUID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return uuid.Nil, fmt.Errorf("%s is required", field)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s must be a valid UUID: %s", field, value)
	}
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%s cannot be the nil UUID", field)
	}
	return id, nil
}

// NormalizePage clamps a requested limit and offset
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > MaxPageSize {
		limit = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
