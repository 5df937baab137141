package types

import "time"

// JobStatus represents the lifecycle state of a processing job
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether the state machine permits from → to.
// A pending job may fail directly, e.g. when parsing yields no units.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Stage names the pipeline phase a job is in
type Stage string

const (
	StageQueued    Stage = "queued"
	StageParse     Stage = "parse"
	StageEmbed     Stage = "embed"
	StageAssemble  Stage = "assemble"
	StageSummarize Stage = "summarize"
	StageDone      Stage = "done"
)

// Job is a processing job for one repository
type Job struct {
	ID           string    `json:"id"`
	RepositoryID string    `json:"repository_id"`
	Status       JobStatus `json:"status"`
	Progress     float64   `json:"progress"`
	Message      string    `json:"message"`
	Stage        Stage     `json:"stage,omitempty"`
	UnitsTotal   int       `json:"units_total,omitempty"`
	UnitsDone    int       `json:"units_done,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Tree is present only when Status is completed.
	Tree *DocTree `json:"-"`
}

// Snapshot returns a copy safe to hand to callers
func (j *Job) Snapshot() Job {
	return *j
}

// JobUpdate is emitted by the orchestrator at every state change and unit
// boundary
type JobUpdate struct {
	JobID      string    `json:"job_id"`
	Status     JobStatus `json:"status"`
	Progress   float64   `json:"progress"`
	Message    string    `json:"message"`
	Stage      Stage     `json:"stage"`
	UnitsTotal int       `json:"units_total"`
	UnitsDone  int       `json:"units_done"`
	At         time.Time `json:"at"`
}

// Apply copies the update onto the job
func (j *Job) Apply(u JobUpdate) {
	j.Status = u.Status
	j.Progress = u.Progress
	j.Message = u.Message
	j.Stage = u.Stage
	j.UnitsTotal = u.UnitsTotal
	j.UnitsDone = u.UnitsDone
	j.UpdatedAt = u.At
}
