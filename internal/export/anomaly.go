package export

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"github.com/wattlens/wattlens/internal/anomaly"
)

const sampleLayout = "2006-01-02 15:04:05"

// AnomalyReport is the content of an exported anomaly page.
type AnomalyReport struct {
	RenderID    string
	Module      int
	Threshold   float64
	Start       time.Time
	End         time.Time
	Annotated   anomaly.Annotated
	Hints       []string
	GeneratedAt time.Time
}

// AnomalyPDF renders a one-page PDF with the summary and flagged samples.
func AnomalyPDF(report AnomalyReport) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, fmt.Sprintf("Anomaly Report - Module %d", report.Module))
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Window: %s - %s", report.Start.Format(sampleLayout), report.End.Format(sampleLayout)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Threshold: %.3f", report.Threshold))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Anomalies: %d of %d samples", report.Annotated.Mask.Count, report.Annotated.Mask.Total))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", report.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	if report.RenderID != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Render: %s", report.RenderID))
		pdf.Ln(5)
	}
	for _, hint := range report.Hints {
		pdf.MultiCell(0, 5, "- "+hint, "", "L", false)
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(50, 6, "Time", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Total Error", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Top Feature", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, p := range report.Annotated.Anomalies() {
		pdf.CellFormat(50, 6, p.Time.Format(sampleLayout), "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%.3f", p.Value), "1", 0, "R", false, 0, "")
		pdf.CellFormat(45, 6, p.Label, "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// AnomalyXLSX renders a workbook with a summary sheet and every sample of the window.
func AnomalyXLSX(report AnomalyReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	samplesSheet := "samples"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(samplesSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Anomaly Report")
	_ = f.SetCellValue(summarySheet, "A3", "Module")
	_ = f.SetCellValue(summarySheet, "B3", report.Module)
	_ = f.SetCellValue(summarySheet, "A4", "Window Start")
	_ = f.SetCellValue(summarySheet, "B4", report.Start.Format(sampleLayout))
	_ = f.SetCellValue(summarySheet, "A5", "Window End")
	_ = f.SetCellValue(summarySheet, "B5", report.End.Format(sampleLayout))
	_ = f.SetCellValue(summarySheet, "A6", "Threshold")
	_ = f.SetCellValue(summarySheet, "B6", report.Threshold)
	_ = f.SetCellValue(summarySheet, "A7", "Anomalies")
	_ = f.SetCellValue(summarySheet, "B7", report.Annotated.Mask.Count)
	_ = f.SetCellValue(summarySheet, "A8", "Samples")
	_ = f.SetCellValue(summarySheet, "B8", report.Annotated.Mask.Total)
	_ = f.SetCellValue(summarySheet, "A9", "Render")
	_ = f.SetCellValue(summarySheet, "B9", report.RenderID)
	for i, hint := range report.Hints {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", 11+i), hint)
	}

	_ = f.SetCellValue(samplesSheet, "A1", "Time")
	_ = f.SetCellValue(samplesSheet, "B1", "Total Error")
	_ = f.SetCellValue(samplesSheet, "C1", "Top Feature")
	_ = f.SetCellValue(samplesSheet, "D1", "Anomaly")
	for i, p := range report.Annotated.Series {
		row := i + 2
		_ = f.SetCellValue(samplesSheet, fmt.Sprintf("A%d", row), p.Time.Format(sampleLayout))
		if !math.IsNaN(p.Value) {
			_ = f.SetCellValue(samplesSheet, fmt.Sprintf("B%d", row), p.Value)
		}
		_ = f.SetCellValue(samplesSheet, fmt.Sprintf("C%d", row), p.Label)
		_ = f.SetCellValue(samplesSheet, fmt.Sprintf("D%d", row), report.Annotated.Mask.Flags[i])
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
