package audit

import "time"

// TimelineFilters narrows the persisted decision log.
type TimelineFilters struct {
	From       time.Time
	To         time.Time
	ActorID    int64
	Permission string
	// Granted filters on outcome when non-nil.
	Granted  *bool
	Page     int
	PageSize int
}

// PagingInfo describes one page of a timeline.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result bundles a page of decisions.
type Result struct {
	Rows   []Decision `json:"rows"`
	Paging PagingInfo `json:"paging"`
}
