// Package report renders workflow audit reports as spreadsheets.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/garyjia/grants-workflow/internal/application/port"
	domainwf "github.com/garyjia/grants-workflow/internal/domain/workflow"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Sheet names of the audit report workbook
const (
	SheetSummary   = "Summary"
	SheetAudit     = "Audit"
	SheetApprovals = "Approvals"
)

var (
	auditHeader    = []interface{}{"Created At", "Transition Event", "Transition", "Source State", "Target State", "Acting User", "Event ID", "Metadata"}
	approvalHeader = []interface{}{"Created At", "Approval Type", "Response", "Approving User", "Still Valid", "Event ID", "Comment"}
)

// ExcelWriter implements port.ReportWriter with excelize
type ExcelWriter struct {
	logger *zap.Logger
}

// NewExcelWriter creates a new ExcelWriter
func NewExcelWriter(logger *zap.Logger) *ExcelWriter {
	return &ExcelWriter{logger: logger}
}

// WriteAuditReport saves report as an xlsx workbook at path
func (w *ExcelWriter) WriteAuditReport(report *port.AuditReport, path string) error {
	if report == nil || report.Workflow == nil {
		return fmt.Errorf("audit report has no workflow")
	}

	file := excelize.NewFile()
	defer file.Close()

	headerStyle, err := file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := file.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if err := w.fillSummary(file, report, headerStyle); err != nil {
		return fmt.Errorf("failed to fill summary: %w", err)
	}
	if err := w.fillAudit(file, report, headerStyle); err != nil {
		return fmt.Errorf("failed to fill audit sheet: %w", err)
	}
	if err := w.fillApprovals(file, report, headerStyle); err != nil {
		return fmt.Errorf("failed to fill approvals sheet: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := file.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save file: %w", err)
	}

	w.logger.Info("Audit report written",
		zap.String("workflow_id", report.Workflow.WorkflowID.String()),
		zap.String("output_path", path),
		zap.Int("audit_rows", len(report.Audits)),
		zap.Int("approval_rows", len(report.Approvals)))

	return nil
}

func (w *ExcelWriter) fillSummary(file *excelize.File, report *port.AuditReport, headerStyle int) error {
	wf := report.Workflow
	entityType, entityID, _ := wf.EntityType()

	rows := [][]interface{}{
		{"Workflow ID", wf.WorkflowID.String()},
		{"Workflow Type", string(wf.WorkflowType)},
		{"Current State", wf.CurrentWorkflowState},
		{"Active", wf.IsActive},
		{"Entity Type", string(entityType)},
		{"Entity ID", entityID.String()},
		{"Created At", formatTime(wf.CreatedAt)},
		{"Updated At", formatTime(wf.UpdatedAt)},
		{"Transitions", len(report.Audits)},
		{"Approvals", len(report.Approvals)},
	}

	for i, row := range rows {
		if err := file.SetSheetRow(SheetSummary, cellName(1, i+1), &row); err != nil {
			return err
		}
	}
	if err := file.SetCellStyle(SheetSummary, "A1", cellName(1, len(rows)), headerStyle); err != nil {
		return err
	}
	return file.SetColWidth(SheetSummary, "A", "B", 40)
}

func (w *ExcelWriter) fillAudit(file *excelize.File, report *port.AuditReport, headerStyle int) error {
	if _, err := file.NewSheet(SheetAudit); err != nil {
		return err
	}
	if err := writeHeader(file, SheetAudit, auditHeader, headerStyle); err != nil {
		return err
	}

	for i, audit := range report.Audits {
		metadata := ""
		if len(audit.AuditMetadata) > 0 {
			data, err := json.Marshal(audit.AuditMetadata)
			if err != nil {
				return fmt.Errorf("failed to marshal audit metadata: %w", err)
			}
			metadata = string(data)
		}

		row := []interface{}{
			formatTime(audit.CreatedAt),
			audit.TransitionEvent,
			domainwf.Trigger(audit.TransitionEvent).DisplayName(),
			audit.SourceState,
			audit.TargetState,
			audit.ActingUserID.String(),
			audit.EventID.String(),
			metadata,
		}
		if err := file.SetSheetRow(SheetAudit, cellName(1, i+2), &row); err != nil {
			return err
		}
	}
	return file.SetColWidth(SheetAudit, "A", "H", 24)
}

func (w *ExcelWriter) fillApprovals(file *excelize.File, report *port.AuditReport, headerStyle int) error {
	if _, err := file.NewSheet(SheetApprovals); err != nil {
		return err
	}
	if err := writeHeader(file, SheetApprovals, approvalHeader, headerStyle); err != nil {
		return err
	}

	for i, approval := range report.Approvals {
		comment := ""
		if approval.Comment != nil {
			comment = *approval.Comment
		}

		row := []interface{}{
			formatTime(approval.CreatedAt),
			string(approval.ApprovalType),
			string(approval.ApprovalResponseType),
			approval.ApprovingUserID.String(),
			approval.IsStillValid,
			approval.EventID.String(),
			comment,
		}
		if err := file.SetSheetRow(SheetApprovals, cellName(1, i+2), &row); err != nil {
			return err
		}
	}
	return file.SetColWidth(SheetApprovals, "A", "G", 24)
}

func writeHeader(file *excelize.File, sheet string, header []interface{}, style int) error {
	if err := file.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	return file.SetCellStyle(sheet, "A1", cellName(len(header), 1), style)
}

func cellName(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
