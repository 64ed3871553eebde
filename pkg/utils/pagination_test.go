package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPaginationDefaults(t *testing.T) {
	p := NewPagination(0, 0, "detected_at", true)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 50, p.PageSize)
	assert.Equal(t, 0, p.GetOffset())
	assert.Equal(t, 50, p.GetLimit())
}

func TestPaginationOffset(t *testing.T) {
	p := NewPagination(3, 20, "detected_at", true)
	assert.Equal(t, 40, p.GetOffset())
	assert.Equal(t, 20, p.GetLimit())
}

func TestPaginationSetTotal(t *testing.T) {
	p := NewPagination(2, 10, "detected_at", true)
	p.SetTotal(45)

	assert.Equal(t, int64(45), p.TotalItems)
	assert.Equal(t, 5, p.TotalPages)
	assert.True(t, p.HasNext)
	assert.True(t, p.HasPrev)

	p = NewPagination(5, 10, "detected_at", true)
	p.SetTotal(45)
	assert.False(t, p.HasNext)
}

func TestPaginationSortOrder(t *testing.T) {
	assert.Equal(t, "detected_at DESC", NewPagination(1, 10, "detected_at", true).GetSortOrder())
	assert.Equal(t, "sku ASC", NewPagination(1, 10, "sku", false).GetSortOrder())
	assert.Equal(t, "detected_at DESC", NewPagination(1, 10, "", false).GetSortOrder())
}
