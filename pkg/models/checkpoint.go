package models

// Checkpoint is a structured resumption point attached to a session
// (spec §3). ContextSnapshot holds a small serialized list of the most
// recent observations at checkpoint time.
type Checkpoint struct {
	Task             string        `json:"task"`
	Progress         string        `json:"progress"`
	NextSteps        string        `json:"next_steps"`
	OpenQuestions    string        `json:"open_questions"`
	RelevantFiles    JSONStringArray `json:"relevant_files,omitempty"`
	ContextSnapshot  []ObservationSnapshot `json:"context_snapshot,omitempty"`
	SessionID        string        `json:"session_id"`
	Project          string        `json:"project"`
	CreatedAt        string        `json:"created_at"`
	ID               int64         `json:"id"`
	CreatedAtEpoch   int64         `json:"created_at_epoch"`
}

// ObservationSnapshot is the compact form of an Observation embedded in a
// Checkpoint's context_snapshot (at most the 10 most recent observations).
type ObservationSnapshot struct {
	Type           ObservationType `json:"type"`
	Title          string          `json:"title"`
	CreatedAt      string          `json:"created_at"`
	ID             int64           `json:"id"`
	CreatedAtEpoch int64           `json:"created_at_epoch"`
}

// MaxContextSnapshotObservations bounds the checkpoint snapshot size.
const MaxContextSnapshotObservations = 10

// NewContextSnapshot truncates obs to the most recent
// MaxContextSnapshotObservations entries, assuming DESC order by
// created_at_epoch, and projects them into snapshots.
func NewContextSnapshot(obs []*Observation) []ObservationSnapshot {
	if len(obs) > MaxContextSnapshotObservations {
		obs = obs[:MaxContextSnapshotObservations]
	}
	out := make([]ObservationSnapshot, len(obs))
	for i, o := range obs {
		out[i] = ObservationSnapshot{
			ID:             o.ID,
			Type:           o.Type,
			Title:          o.Title,
			CreatedAt:      o.CreatedAt,
			CreatedAtEpoch: o.CreatedAtEpoch,
		}
	}
	return out
}
