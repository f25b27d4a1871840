package chat

// Article is a news item returned by the search and recent-news endpoints.
type Article struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	Snippet       string `json:"snippet"`
	PublishedDate string `json:"published_date,omitempty"`
}
