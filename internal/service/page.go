package service

import "azaan/internal/store"

const MaxPageLimit = 500

// PageRequest is a 1-based page of size Limit as sent by API clients.
type PageRequest struct {
	Page  int
	Limit int
}

type Pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

func (p PageRequest) normalize(defLimit int) PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = defLimit
	}
	p.Limit = min(p.Limit, MaxPageLimit)
	return p
}

func (p PageRequest) store() store.Page {
	return store.Page{Limit: p.Limit, Offset: (p.Page - 1) * p.Limit}
}

func newPagination(total int, p PageRequest) Pagination {
	return Pagination{
		Total: total,
		Page:  p.Page,
		Limit: p.Limit,
		Pages: (total + p.Limit - 1) / p.Limit,
	}
}
