package api

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadPage(t *testing.T) {
	tests := []struct {
		query string
		want  pageRequest
	}{
		{"", pageRequest{Page: 1, Limit: defaultPageLimit, Offset: 0}},
		{"page=3&limit=10", pageRequest{Page: 3, Limit: 10, Offset: 20}},
		{"page=0&limit=-4", pageRequest{Page: 1, Limit: defaultPageLimit, Offset: 0}},
		{"page=abc&limit=xyz", pageRequest{Page: 1, Limit: defaultPageLimit, Offset: 0}},
		{"page=2&limit=5000", pageRequest{Page: 2, Limit: maxPageLimit, Offset: maxPageLimit}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/campaigns?"+tt.query, nil)
			assert.Equal(t, tt.want, readPage(r))
		})
	}
}

func TestPageOf(t *testing.T) {
	p := pageOf([]int{}, pageRequest{Page: 1, Limit: 10}, 0)
	assert.Equal(t, PageInfo{Page: 1, Limit: 10, Total: 0, TotalPages: 1, HasMore: false}, p.Pagination)

	p = pageOf(nil, pageRequest{Page: 2, Limit: 10, Offset: 10}, 21)
	assert.Equal(t, 3, p.Pagination.TotalPages)
	assert.True(t, p.Pagination.HasMore)

	p = pageOf(nil, pageRequest{Page: 3, Limit: 10, Offset: 20}, 30)
	assert.Equal(t, 3, p.Pagination.TotalPages)
	assert.False(t, p.Pagination.HasMore)
}
