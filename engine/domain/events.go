package domain

// SubjectQueryCompleted is the NATS subject QueryEvents are published on.
const SubjectQueryCompleted = "firstaid.query.completed"

// QueryEvent is an audit record of one /query call. It carries sizes and
// outcomes only, never the question text.
type QueryEvent struct {
	ID          string `json:"id"`
	QuestionLen int    `json:"question_len"`
	Status      int    `json:"status"`
	DurationMS  int64  `json:"duration_ms"`
	SourceCount int    `json:"source_count"`
	Error       string `json:"error,omitempty"`
}
