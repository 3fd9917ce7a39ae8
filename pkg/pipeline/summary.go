package pipeline

import (
	"cmp"
	"slices"
	"time"

	"github.com/OFFIS-RIT/biograph/pkg/common"
)

// PublicationFailure is one entry of the batch failure list.
type PublicationFailure struct {
	ID     string             `json:"id"`
	Kind   common.FailureKind `json:"kind"`
	Reason string             `json:"reason"`
}

// BatchSummary is the outcome of one batch run.
type BatchSummary struct {
	RunID            string               `json:"run_id"`
	ProcessedCount   int                  `json:"processed_count"`
	Failed           []PublicationFailure `json:"failed_publications"`
	EntitiesCreated  int                  `json:"entities_created"`
	RelationsCreated int                  `json:"relations_created"`
	ProvenanceAdded  int                  `json:"provenance_added"`
	Aborted          bool                 `json:"aborted"`
	AbortReason      string               `json:"abort_reason,omitempty"`
	Canceled         bool                 `json:"canceled,omitempty"`
	// Watermark is the largest updated_at among processed publications.
	Watermark  time.Time `json:"watermark,omitzero"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// FailedIDs lists the ids of failed publications.
func (s BatchSummary) FailedIDs() []string {
	ids := make([]string, len(s.Failed))
	for i, f := range s.Failed {
		ids[i] = f.ID
	}
	return ids
}

// Status is "aborted", "canceled" or "finished".
func (s BatchSummary) Status() string {
	switch {
	case s.Aborted:
		return "aborted"
	case s.Canceled:
		return "canceled"
	}
	return "finished"
}

func (s *BatchSummary) sortFailures() {
	slices.SortFunc(s.Failed, func(a, b PublicationFailure) int {
		return cmp.Compare(a.ID, b.ID)
	})
}
