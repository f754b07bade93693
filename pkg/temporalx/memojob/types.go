// Package memojob is the Temporal workflow and activity that run one memo
// job through the pipeline.
package memojob

const (
	WorkflowName = "memo_job"
	ActivityRun  = "memo_job_run"
)

// RunResult is what the activity reports back to the workflow.
type RunResult struct {
	JobID   string `json:"job_id"`
	MemoID  string `json:"memo_id,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
	Failed  bool   `json:"failed,omitempty"`
	Error   string `json:"error,omitempty"`
}
