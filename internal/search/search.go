// Package search provides document search with Meilisearch as the primary
// backend and PostgreSQL full-text search as the fallback. Relevance tuning
// is out of scope; this is plain lookup over title, description and content.
package search

// DocumentRecord is the indexed shape of a document.
type DocumentRecord struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organizationId"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Content        string `json:"content"`
	FolderPath     string `json:"folderPath"`
}

// Query is one search request, always scoped to an organization.
type Query struct {
	OrganizationID string
	Text           string
	Limit          int
	Offset         int
}

// Result is one search hit.
type Result struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	FolderPath string `json:"folderPath"`
}

// Response is a page of search results.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}
