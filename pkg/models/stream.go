package models

import "time"

// StreamStatus marks whether an event carries a chunk or terminates the stream.
type StreamStatus string

const (
	StreamInProgress StreamStatus = "in_progress"
	StreamCompleted  StreamStatus = "completed"
	StreamError      StreamStatus = "error"
)

// StreamFailure is the error detail on a terminal error event. It never carries document text.
type StreamFailure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StreamEvent is one line of a streaming analysis. Sequence starts at 1 and
// grows by one per event.
type StreamEvent struct {
	SessionID       string          `json:"session_id"`
	Sequence        int             `json:"sequence"`
	Status          StreamStatus    `json:"status"`
	ChunkAnalysis   *AnalysisResult `json:"chunk_analysis,omitempty"`
	Progress        float64         `json:"progress"`
	TotalChunks     int             `json:"total_chunks"`
	ProcessedChunks int             `json:"processed_chunks"`
	Error           *StreamFailure  `json:"error,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Terminal reports whether no further events follow this one.
func (e StreamEvent) Terminal() bool {
	return e.Status == StreamCompleted || e.Status == StreamError
}
