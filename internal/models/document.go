package models

import "time"

// ContentRecord holds the renderer-owned fields of a hub content document in
// Firestore (hubs/{hubId}/content/{contentId}). The four fields are always
// merge-written together; every other field on the document belongs to the
// admin console and is never touched here.
type ContentRecord struct {
	ImageManifestURL string `firestore:"imageManifestUrl" json:"imageManifestUrl"`
	PosterURL        string `firestore:"posterUrl" json:"posterUrl"`
	PosterLQIP       string `firestore:"posterLqip" json:"posterLqip"`
	FileURL          string `firestore:"fileUrl" json:"fileUrl"`
}

// Fields returns the record as a field map suitable for a merge write.
func (r ContentRecord) Fields() map[string]interface{} {
	return map[string]interface{}{
		"imageManifestUrl": r.ImageManifestURL,
		"posterUrl":        r.PosterURL,
		"posterLqip":       r.PosterLQIP,
		"fileUrl":          r.FileURL,
	}
}

// Job status values stored on RenderJob.Status.
const (
	JobStatusRunning   = "RUNNING"
	JobStatusSucceeded = "SUCCEEDED"
	JobStatusFailed    = "FAILED"
)

// RenderJob is the audit record for one render invocation. It tracks the
// overall status and metadata of the run, independent of the content record.
type RenderJob struct {
	JobID        string    `firestore:"jobId" json:"jobId"`
	HubID        string    `firestore:"hubId" json:"hubId"`
	ContentID    string    `firestore:"contentId" json:"contentId"`
	Bucket       string    `firestore:"bucket" json:"bucket"`
	ObjectName   string    `firestore:"objectName" json:"objectName"`
	Status       string    `firestore:"status" json:"status"`
	ErrorKind    string    `firestore:"errorKind,omitempty" json:"errorKind,omitempty"`
	ErrorDetails string    `firestore:"errorDetails,omitempty" json:"errorDetails,omitempty"`
	SourceHash   string    `firestore:"sourceHash,omitempty" json:"sourceHash,omitempty"`
	PageCount    int       `firestore:"pageCount,omitempty" json:"pageCount,omitempty"`
	StartedAt    time.Time `firestore:"startedAt" json:"startedAt"`
	FinishedAt   time.Time `firestore:"finishedAt,omitempty" json:"finishedAt,omitempty"`
}
