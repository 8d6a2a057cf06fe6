package models

// SearchRequest represents the search request body
type SearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// SearchResultItem represents a single search result.
// Score is the raw squared L2 distance: lower is closer.
type SearchResultItem struct {
	ImagePath string  `json:"image_path"`
	Score     float32 `json:"score"`
}

// SearchResponse represents the search response body
type SearchResponse struct {
	Results []SearchResultItem `json:"results"`
}

// ErrorResponse carries the message returned with 4xx/5xx responses.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// StatsResponse describes the index loaded by the service.
type StatsResponse struct {
	BuildID   string `json:"build_id"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
	Images    int    `json:"images"`
	MaxTopK   int    `json:"max_top_k"`
}

// Match pairs an image path with its distance to the query.
type Match struct {
	Path     string
	Distance float32
}

// Items converts matches to their wire form, keeping order.
func Items(matches []Match) []SearchResultItem {
	items := make([]SearchResultItem, 0, len(matches))
	for _, m := range matches {
		items = append(items, SearchResultItem{ImagePath: m.Path, Score: m.Distance})
	}
	return items
}
