package models

import "time"

// ArchiveFailureReason classifies why an appointment could not be archived.
type ArchiveFailureReason string

const (
	ArchiveFailureNotFound         ArchiveFailureReason = "NOT_FOUND"
	ArchiveFailureLookupFailed     ArchiveFailureReason = "LOOKUP_FAILED"
	ArchiveFailureGenerationFailed ArchiveFailureReason = "GENERATION_FAILED"
	// ArchiveFailureOrphanExport means the artifact exists but the appointment is still booked.
	ArchiveFailureOrphanExport ArchiveFailureReason = "ORPHAN_EXPORT"
)

// ArchiveFailure is one failed item of an archive run.
type ArchiveFailure struct {
	ID       string               `json:"id"`
	Reason   ArchiveFailureReason `json:"reason"`
	Message  string               `json:"message"`
	Artifact *string              `json:"artifact,omitempty"`
}

// ArchiveBundle references the packaged export of successful artifacts.
type ArchiveBundle struct {
	Path        string    `json:"path"`
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
	Items       int       `json:"items"`
}

// ArchiveSummary reports per-item outcomes of an archive run.
type ArchiveSummary struct {
	Succeeded   []string         `json:"succeeded"`
	Failed      []ArchiveFailure `json:"failed"`
	Bundle      *ArchiveBundle   `json:"bundle,omitempty"`
	BundleError *string          `json:"bundle_error,omitempty"`
}

// ArtifactHandle references a generated document.
type ArtifactHandle struct {
	Path      string `json:"path"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
}
