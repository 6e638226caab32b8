package model

// Artifact schema tags. The syncer dispatches on this tag, never on file size
// or record-shape sniffing.
const (
	SchemaFindingsV1 = "findings/v1"
)

// Phase names as they appear in artifacts and log lines.
const (
	PhaseExtract  = "extract"
	PhaseClassify = "classify"
	PhaseSync     = "sync"
)

// PhaseArtifact is the self-describing on-disk output of one pipeline phase.
// The next phase reads it from disk, which keeps every step independently
// retryable and inspectable.
type PhaseArtifact struct {
	SubmissionID  string          `json:"submission_id"`
	Phase         string          `json:"phase_name"`
	SchemaVersion string          `json:"schema_version"`
	ModelVersion  string          `json:"model_version"`
	Records       []FindingRecord `json:"records"`
	Failures      []ChunkFailure  `json:"failures,omitempty"`
}
