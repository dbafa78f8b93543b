package api

import (
	"net/http"
	"strconv"
)

// List endpoints page with ?page=N&limit=M. Pages are 1-based.
const (
	defaultPageLimit = 25
	maxPageLimit     = 100
)

type pageRequest struct {
	Page   int
	Limit  int
	Offset int
}

// Page is the envelope every list endpoint returns.
type Page struct {
	Data       any      `json:"data"`
	Pagination PageInfo `json:"pagination"`
}

type PageInfo struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasMore    bool `json:"has_more"`
}

// readPage treats unparsable or non-positive values as absent.
func readPage(r *http.Request) pageRequest {
	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit < 1 {
		limit = defaultPageLimit
	}
	limit = min(limit, maxPageLimit)
	return pageRequest{Page: page, Limit: limit, Offset: (page - 1) * limit}
}

// pageOf reports at least one page so an empty list still reads "page 1 of 1".
func pageOf(data any, req pageRequest, total int) Page {
	pages := max((total+req.Limit-1)/req.Limit, 1)
	return Page{
		Data: data,
		Pagination: PageInfo{
			Page:       req.Page,
			Limit:      req.Limit,
			Total:      total,
			TotalPages: pages,
			HasMore:    req.Page < pages,
		},
	}
}
