package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	OwnerID   string `json:"ownerId"`
	OwnerName string `json:"ownerName"`
	Status    string `json:"status"`
}

// Query describes a search request over proof documents.
type Query struct {
	Text          string
	FilterOwnerID string
	FilterStatus  string
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push proof records into a search index.
type Indexer interface {
	IndexProof(p ProofRecord) error
	DeleteProof(id string) error
}

// ProofRecord is the data we index for a proof document.
type ProofRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Goals       string `json:"goals"`
	OwnerID     string `json:"ownerId"`
	OwnerName   string `json:"ownerName"`
	Status      string `json:"status"`
}
