package approvals

import (
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
)

// writeStatisticsWorkbook renders a statistics snapshot as an xlsx file
// with one sheet per rollup.
func writeStatisticsWorkbook(stats *Statistics, out io.Writer) error {
	f := excelize.NewFile()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"4472C4"}},
	})
	if err != nil {
		return err
	}

	writeSheet := func(sheet string, header []interface{}, rows [][]interface{}) error {
		if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
		all := append([][]interface{}{header}, rows...)
		for i := range all {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(sheet, cell, &all[i]); err != nil {
				return fmt.Errorf("failed to write row %d on %s: %w", i+1, sheet, err)
			}
		}
		end, err := excelize.CoordinatesToCellName(len(header), 1)
		if err != nil {
			return err
		}
		return f.SetCellStyle(sheet, "A1", end, headerStyle)
	}

	overview := [][]interface{}{
		{"Total requests", stats.TotalRequests},
		{"Overdue requests", stats.OverdueCount},
		{"Average completion (hours)", stats.AvgCompletionSeconds / 3600},
		{"Computed at", stats.ComputedAt.Format("2006-01-02 15:04:05")},
	}
	if err := writeSheet("Overview", []interface{}{"Metric", "Value"}, overview); err != nil {
		return err
	}

	var buckets [][]interface{}
	for status, count := range stats.ByStatus {
		buckets = append(buckets, []interface{}{string(status), count})
	}
	for wfType, count := range stats.ByWorkflowType {
		buckets = append(buckets, []interface{}{string(wfType), count})
	}
	if err := writeSheet("By Status", []interface{}{"Bucket", "Count"}, buckets); err != nil {
		return err
	}

	var approverRows [][]interface{}
	for _, st := range stats.ApproverThroughput {
		approverRows = append(approverRows, []interface{}{
			st.ApproverID.String(), st.Pending, st.Approved, st.Rejected, st.Returned, st.Delegated,
		})
	}
	header := []interface{}{"Approver", "Pending", "Approved", "Rejected", "Returned", "Delegated"}
	if err := writeSheet("Approvers", header, approverRows); err != nil {
		return err
	}

	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}
	return f.Write(out)
}

// writeAuditTrailPDF renders a request and its full ledger as a printable
// audit report.
func writeAuditTrailPDF(req *ApprovalRequest, actions []ApprovalAction, out io.Writer) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, "Approval Audit Trail", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	keyValue := func(key, value string) {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(40, 6, key, "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 6, value, "", 1, "L", false, 0, "")
	}
	keyValue("Request", req.RequestTitle)
	keyValue("Entity", fmt.Sprintf("%s / %s", req.EntityType, req.EntityID))
	keyValue("Status", string(req.Status))
	keyValue("Current step", fmt.Sprintf("%d", req.CurrentStepOrder))
	if req.CompletedAt != nil {
		keyValue("Completed at", req.CompletedAt.Format("2006-01-02 15:04"))
	}
	if req.RejectionReason != "" {
		keyValue("Rejection reason", req.RejectionReason)
	}
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(68, 114, 196)
	pdf.SetTextColor(255, 255, 255)
	widths := []float64{32, 14, 26, 48, 60}
	headers := []string{"Date", "Step", "Action", "Approver", "Comments"}
	for i, h := range headers {
		pdf.CellFormat(widths[i], 8, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFillColor(242, 242, 242)
	for i, a := range actions {
		fill := i%2 == 1
		comments := a.Comments
		if a.DelegatedToUserID != nil {
			comments = fmt.Sprintf("delegated to %s: %s", a.DelegatedToUserID, a.DelegationReason)
		}
		cells := []string{
			a.ActionDate.Format("2006-01-02 15:04"),
			fmt.Sprintf("%d", a.StepOrder),
			string(a.ActionType),
			a.ApproverID.String()[:8],
			comments,
		}
		for j, cell := range cells {
			pdf.CellFormat(widths[j], 7, cell, "1", 0, "L", fill, 0, "")
		}
		pdf.Ln(-1)
	}

	return pdf.Output(out)
}
