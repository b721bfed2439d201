package domain

import "time"

// Approval stage and action every platform pipeline waits in before it
// deploys.
const (
	ApprovalStageName  = "ApprovalStage"
	ApprovalActionName = "Approval"
)

// ApprovalStatus is the result of a manual approval.
type ApprovalStatus string

const (
	ApprovalApproved ApprovalStatus = "Approved"
	ApprovalRejected ApprovalStatus = "Rejected"
)

// PipelineActionState is the latest execution of one action of a pipeline.
// Fields the pipeline does not report are NotAvailable.
type PipelineActionState struct {
	StageName        string `json:"stage_name"`
	Name             string `json:"name"`
	Status           string `json:"status"`
	PercentComplete  string `json:"percent_complete"`
	LastStatusChange string `json:"last_status_change"`
	ErrorDetails     string `json:"error_details"`
}

// ApprovalRequest is the body of a pipeline approval.
type ApprovalRequest struct {
	Status  ApprovalStatus `json:"status"`
	Summary string         `json:"summary"`
}

// ApprovalResult reports an accepted approval.
type ApprovalResult struct {
	Status     ApprovalStatus `json:"status"`
	Summary    string         `json:"summary"`
	ApprovedAt *time.Time     `json:"approved_at,omitempty"`
}
