package model

import "time"

// ClassExport is the top-level JSON structure for class result export.
type ClassExport struct {
	ClassID    int64           `json:"class_id"`
	Name       string          `json:"name"`
	Grade      int             `json:"grade"`
	ExportedAt time.Time       `json:"exported_at"`
	Questions  int             `json:"questions"`
	Students   []StudentResult `json:"students"`
}

// StudentResult holds one student's attempts for export.
type StudentResult struct {
	Username    string          `json:"username"`
	DisplayName string          `json:"display_name"`
	Attempts    int             `json:"attempts"`
	Correct     int             `json:"correct"`
	AvgScore    float64         `json:"avg_score"`
	Answers     []AttemptResult `json:"answers"`
}

// AttemptResult holds per-attempt data for export.
type AttemptResult struct {
	Question string    `json:"question"`
	Topic    string    `json:"topic"`
	Answer   string    `json:"answer"`
	Correct  bool      `json:"correct"`
	Score    float64   `json:"score"`
	Feedback string    `json:"feedback"`
	At       time.Time `json:"at"`
}
