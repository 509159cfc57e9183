package clix

import (
	"fmt"

	"harvest/internal/models"
	"harvest/internal/store"

	"github.com/spf13/pflag"
)

type PaginationParams struct {
	Limit  int
	Offset int
}

// ParsePagination reads --limit and --offset. A missing or zero limit means
// the default page size.
func ParsePagination(flags *pflag.FlagSet) (PaginationParams, error) {
	limit, _ := flags.GetInt("limit")
	offset, _ := flags.GetInt("offset")
	if limit == 0 {
		limit = store.DefaultListLimit
	}
	if limit < 1 || limit > store.MaxListLimit {
		return PaginationParams{}, fmt.Errorf("--limit must be between 1 and %d", store.MaxListLimit)
	}
	if offset < 0 {
		return PaginationParams{}, fmt.Errorf("--offset must be >= 0")
	}
	return PaginationParams{Limit: limit, Offset: offset}, nil
}

// ParseStatus reads --status; an empty value means no filter.
func ParseStatus(flags *pflag.FlagSet) (*models.Status, error) {
	raw, _ := flags.GetString("status")
	if raw == "" {
		return nil, nil
	}
	st, err := models.ParseStatus(raw)
	if err != nil {
		return nil, err
	}
	return &st, nil
}
