package model

// ReviewStatus is the human triage label for a document. Absence of a row
// implies ReviewNew.
type ReviewStatus string

const (
	ReviewNew        ReviewStatus = "new"
	ReviewReviewed   ReviewStatus = "reviewed"
	ReviewIgnored    ReviewStatus = "ignored"
	ReviewIrrelevant ReviewStatus = "irrelevant"
	ReviewHighValue  ReviewStatus = "high_value"
)

// ValidReviewStatus reports whether s is a known review label.
func ValidReviewStatus(s ReviewStatus) bool {
	switch s {
	case ReviewNew, ReviewReviewed, ReviewIgnored, ReviewIrrelevant, ReviewHighValue:
		return true
	}
	return false
}

// FeedbackCentroid is an online mean embedding for a review label, updated
// incrementally as documents are labeled.
type FeedbackCentroid struct {
	Label     string  `json:"label"`
	ModelName string  `json:"model_name"`
	Vector    []byte  `json:"-"`
	Norm      float64 `json:"norm"`
	Count     int     `json:"count"`
}

// TriageRow is one row of the flagged-document index: a matched document
// joined with its scoring metrics and review state.
type TriageRow struct {
	DocID          int64        `json:"doc_id"`
	URL            string       `json:"url"`
	Title          string       `json:"title"`
	LocalPath      string       `json:"local_path"`
	FetchedAt      string       `json:"fetched_at"`
	MatchCount     int          `json:"match_count"`
	RelevanceScore *float64     `json:"relevance_score,omitempty"`
	TopicSim       *float64     `json:"topic_similarity,omitempty"`
	EntityDensity  *float64     `json:"entity_density,omitempty"`
	URLPenalty     *float64     `json:"url_penalty,omitempty"`
	ReviewStatus   ReviewStatus `json:"review_status"`
}
