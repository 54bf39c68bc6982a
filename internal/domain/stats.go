package domain

// Count holds the resolved value for a single target.
// It is the core domain entity of this application.
type Count struct {
	Target Target `json:"target"`
	Value  int    `json:"value"`
}

// Summary aggregates all counts of a run.
type Summary struct {
	Total  int     `json:"total"`
	Median float64 `json:"median"`
	Max    int     `json:"max"`
}
