package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	closing "installops/internal/closing/domain"
)

// BuildClosingPDF renders a closing report with one row per site.
func BuildClosingPDF(report *closing.Report) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, fmt.Sprintf("Monthly Closing %s", report.Period()))
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Window: %s to %s (exclusive)", report.PeriodStart.Format("2006-01-02"), report.PeriodEnd.Format("2006-01-02")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Sites: %d  Calculations: %d", report.SiteCount, report.CalculationCount))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", report.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Snapshot: %s", report.SnapshotHash))
	pdf.Ln(8)

	t := report.Totals
	for _, row := range [][2]string{
		{"Total revenue", money(t.TotalRevenue)},
		{"Total cost", money(t.TotalCost)},
		{"Gross profit", money(t.GrossProfit)},
		{"Commission", money(t.Commission)},
		{"Survey cost", money(t.SurveyCost)},
		{"Installation cost", money(t.InstallationCost)},
		{"Misc cost", money(t.MiscCost)},
		{"Net profit", money(t.NetProfit)},
	} {
		pdf.CellFormat(50, 6, row[0], "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, row[1], "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.Ln(6)

	headers := []string{"Site", "Installed", "Calcs", "Revenue", "Cost", "Gross", "Commission", "Survey", "Install", "Net"}
	widths := []float64{40, 24, 14, 26, 26, 26, 26, 22, 22, 26}
	pdf.SetFont("Arial", "B", 9)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 6, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, site := range report.Sites {
		id := site.SiteID
		if site.Unpriced {
			id += " *"
		}
		cells := []string{
			id,
			site.InstalledAt,
			fmt.Sprintf("%d", len(site.CalculationDates)),
			money(site.TotalRevenue),
			money(site.TotalCost),
			money(site.GrossProfit),
			money(site.Commission),
			money(site.SurveyCost),
			money(site.InstallationCost),
			money(site.NetProfit),
		}
		for i, c := range cells {
			align := "R"
			if i < 2 {
				align = "L"
			}
			pdf.CellFormat(widths[i], 6, c, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}
	pdf.Ln(4)
	pdf.Cell(0, 6, "* site has equipment without a configured price")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildClosingXLSX renders a closing report as a summary sheet and a
// per-site sheet.
func BuildClosingXLSX(report *closing.Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	sitesSheet := "sites"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(sitesSheet); err != nil {
		return nil, err
	}

	t := report.Totals
	summary := [][2]any{
		{"Monthly Closing", report.Period().String()},
		{"Period start", report.PeriodStart.Format("2006-01-02")},
		{"Period end (exclusive)", report.PeriodEnd.Format("2006-01-02")},
		{"Sites", report.SiteCount},
		{"Calculations", report.CalculationCount},
		{"Total revenue", t.TotalRevenue},
		{"Total cost", t.TotalCost},
		{"Gross profit", t.GrossProfit},
		{"Commission", t.Commission},
		{"Survey cost", t.SurveyCost},
		{"Installation cost", t.InstallationCost},
		{"Misc cost", t.MiscCost},
		{"Net profit", t.NetProfit},
		{"Snapshot hash", report.SnapshotHash},
		{"Generated", report.GeneratedAt.Format(time.RFC3339)},
	}
	for i, row := range summary {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), row[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), row[1])
	}

	headers := []string{"Site", "Installed", "Calculation dates", "Unpriced", "Revenue", "Cost", "Gross profit", "Commission", "Survey cost", "Installation cost", "Misc cost", "Net profit"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sitesSheet, cell, h)
	}
	for r, site := range report.Sites {
		values := []any{
			site.SiteID,
			site.InstalledAt,
			len(site.CalculationDates),
			site.Unpriced,
			site.TotalRevenue,
			site.TotalCost,
			site.GrossProfit,
			site.Commission,
			site.SurveyCost,
			site.InstallationCost,
			site.MiscCost,
			site.NetProfit,
		}
		for c, v := range values {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			_ = f.SetCellValue(sitesSheet, cell, v)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func money(v int64) string {
	return fmt.Sprintf("%d", v)
}
