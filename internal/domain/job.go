package domain

import "time"

// AssessmentStatus is the lifecycle state of a quality assessment job.
// The intended path is monotonic; error is reachable from any non-terminal
// state. pending_celery is accepted on read for compatibility with older
// job records but never written by this engine.
type AssessmentStatus string

const (
	StatusUploading          AssessmentStatus = "uploading"
	StatusPendingExtraction  AssessmentStatus = "pending_text_extraction"
	StatusProcessing         AssessmentStatus = "processing_assessment"
	StatusCompleted          AssessmentStatus = "completed"
	StatusError              AssessmentStatus = "error"
	StatusPendingCeleryAlias AssessmentStatus = "pending_celery"
)

// Terminal reports whether no further transitions are allowed.
func (s AssessmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// statusRank orders the intended path for monotonicity checks.
var statusRank = map[AssessmentStatus]int{
	StatusUploading:          0,
	StatusPendingCeleryAlias: 0,
	StatusPendingExtraction:  1,
	StatusProcessing:         2,
	StatusCompleted:          3,
	StatusError:              3,
}

// CanTransition reports whether moving from s to next is legal: forward
// along the intended path, or to error from any non-terminal state.
func (s AssessmentStatus) CanTransition(next AssessmentStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusError {
		return true
	}
	return statusRank[next] == statusRank[s]+1
}

// Progress tracks how far an assessment has advanced. Observers must treat
// Current as a monotonic counter and ignore values lower than already seen.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

// CriterionResult is one entry of assessment_details.
type CriterionResult struct {
	CriterionID    string   `json:"criterion_id"`
	CriterionText  string   `json:"criterion_text"`
	Judgment       string   `json:"judgment"`
	Reason         string   `json:"reason,omitempty"`
	EvidenceQuotes []string `json:"evidence_quotes,omitempty"`
}

// AssessmentJob is the persisted state of one document's quality assessment.
type AssessmentJob struct {
	AssessmentID      string            `json:"assessment_id"`
	Filename          string            `json:"filename"`
	DocumentType      string            `json:"document_type"`
	Status            AssessmentStatus  `json:"status"`
	Progress          Progress          `json:"progress"`
	SavedPDFFilename  string            `json:"saved_pdf_filename,omitempty"`
	RawText           string            `json:"raw_text,omitempty"`
	AssessmentDetails []CriterionResult `json:"assessment_details,omitempty"`
	SummaryTotal      int               `json:"summary_total_criteria_evaluated"`
	SummaryNegative   int               `json:"summary_negative_findings"`
	CreatedAt         time.Time         `json:"created_at"`
	Message           string            `json:"message,omitempty"`
}

// BatchStatus is the lifecycle state of a multi-document batch.
type BatchStatus string

const (
	BatchUploading  BatchStatus = "uploading"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
)

// BatchJob owns assessments by id reference; deleting a batch does not
// delete its assessments.
type BatchJob struct {
	BatchID             string      `json:"batch_id"`
	AssessmentIDs       []string    `json:"assessment_ids"`
	Status              BatchStatus `json:"status"`
	TotalFiles          int         `json:"total_files"`
	SuccessfulFilenames []string    `json:"successful_filenames,omitempty"`
	FailedFilenames     []string    `json:"failed_filenames,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
}
