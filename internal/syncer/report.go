package syncer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yuya-takeyama/strict-site-deploy/pkg/planner"
)

// PlanResult represents the planned operations before execution
type PlanResult struct {
	Files   []PlanFile  `json:"files"`
	Summary PlanSummary `json:"summary"`
}

type PlanFile struct {
	Action string `json:"action"` // "create", "update", "delete"
	Source string `json:"source,omitempty"`
	Target string `json:"target"`
	Reason string `json:"reason"`
}

type PlanSummary struct {
	Create int `json:"create"`
	Update int `json:"update"`
	Delete int `json:"delete"`
}

// SyncResult represents the actual execution results
type SyncResult struct {
	Files   []ResultFile  `json:"files"`
	Errors  []ErrorFile   `json:"errors"`
	Summary ResultSummary `json:"summary"`
}

type ResultFile struct {
	Action string `json:"action"` // "created", "updated", "deleted"
	Source string `json:"source,omitempty"`
	Target string `json:"target"`
}

type ErrorFile struct {
	Action string `json:"action"` // "create", "update", "delete"
	Source string `json:"source,omitempty"`
	Target string `json:"target"`
	Error  string `json:"error"`
}

type ResultSummary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// NewPlanResult builds the JSON plan report for items synced from root into
// bucket.
func NewPlanResult(bucket, root string, items []planner.Item) PlanResult {
	plan := PlanResult{Files: []PlanFile{}}

	for _, item := range items {
		file := PlanFile{
			Action: actionName(item),
			Target: formatS3Path(bucket, item.Path),
			Reason: item.Reason,
		}
		switch file.Action {
		case "create":
			plan.Summary.Create++
		case "update":
			plan.Summary.Update++
		case "delete":
			plan.Summary.Delete++
		}
		if item.Action == planner.ActionUpload {
			file.Source = sourcePath(root, item.Path)
		}
		plan.Files = append(plan.Files, file)
	}

	return plan
}

// NewSyncResult builds the JSON result report of a run.
func NewSyncResult(result *Result) SyncResult {
	report := SyncResult{
		Files:  []ResultFile{},
		Errors: []ErrorFile{},
	}

	for _, item := range result.Applied {
		file := ResultFile{
			Target: formatS3Path(result.Bucket, item.Path),
		}
		switch actionName(item) {
		case "create":
			file.Action = "created"
			report.Summary.Created++
		case "update":
			file.Action = "updated"
			report.Summary.Updated++
		case "delete":
			file.Action = "deleted"
			report.Summary.Deleted++
		}
		if item.Action == planner.ActionUpload {
			file.Source = sourcePath(result.Root, item.Path)
		}
		report.Files = append(report.Files, file)
	}

	if result.Failed != nil {
		item := result.Failed.Item
		errorFile := ErrorFile{
			Action: actionName(item),
			Target: formatS3Path(result.Bucket, item.Path),
			Error:  result.Failed.Err.Error(),
		}
		if item.Action == planner.ActionUpload {
			errorFile.Source = sourcePath(result.Root, item.Path)
		}
		report.Errors = append(report.Errors, errorFile)
		report.Summary.Failed++
	}

	return report
}

func WritePlanResult(path string, plan PlanResult) error {
	return writeJSON(path, plan)
}

func WriteSyncResult(path string, result SyncResult) error {
	return writeJSON(path, result)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

func actionName(item planner.Item) string {
	switch item.Action {
	case planner.ActionDelete:
		return "delete"
	case planner.ActionUpload:
		if item.Reason == planner.ReasonNewFile {
			return "create"
		}
		return "update"
	default:
		return "unknown"
	}
}

func sourcePath(root, path string) string {
	local := filepath.Join(root, filepath.FromSlash(path))
	absPath, err := filepath.Abs(local)
	if err != nil {
		return local // fallback to original path
	}
	return absPath
}

func formatS3Path(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}
