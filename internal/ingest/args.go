package ingest

import (
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

const ingestKind = "facepass.ingest"

// IngestArgs is the job payload for indexing one photo of a session. The image
// itself stays in the blob store; only its key travels through the queue.
// Uniqueness is by (photo, session) so a pair has at most one live job.
type IngestArgs struct {
	PhotoID   string `json:"photo_id" river:"unique"`
	SessionID string `json:"session_id" river:"unique"`
	BlobKey   string `json:"blob_key"`
}

// Kind returns the River job kind.
func (IngestArgs) Kind() string { return ingestKind }

// uniqueStates are the states in which an existing job blocks a new insert.
// Completed, cancelled and discarded jobs do not, so a pair can be re-ingested.
var uniqueStates = []rivertype.JobState{
	rivertype.JobStatePending,
	rivertype.JobStateAvailable,
	rivertype.JobStateRunning,
	rivertype.JobStateRetryable,
	rivertype.JobStateScheduled,
}

func insertOpts(queue string, maxAttempts int) *river.InsertOpts {
	return &river.InsertOpts{
		Queue:       queue,
		MaxAttempts: maxAttempts,
		UniqueOpts: river.UniqueOpts{
			ByArgs:  true,
			ByState: uniqueStates,
		},
	}
}

var _ river.JobArgs = IngestArgs{}
