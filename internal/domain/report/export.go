package report

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// XLSXContentType is the MIME type of ExportXLSX output.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const exportDate = "Jan 02, 2006"

type sheetWriter struct {
	f      *excelize.File
	header int
}

func (w *sheetWriter) rows(sheet string, rows [][]interface{}, headerRows ...int) error {
	for i, row := range rows {
		for j, v := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				return err
			}
			if err := w.f.SetCellValue(sheet, cell, v); err != nil {
				return fmt.Errorf("set cell %s!%s: %w", sheet, cell, err)
			}
		}
	}
	for _, r := range headerRows {
		start, _ := excelize.CoordinatesToCellName(1, r)
		end, _ := excelize.CoordinatesToCellName(len(rows[r-1]), r)
		if err := w.f.SetCellStyle(sheet, start, end, w.header); err != nil {
			return fmt.Errorf("style %s header: %w", sheet, err)
		}
	}
	return nil
}

func pct(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

// ExportXLSX renders a report as a workbook with Summary, Patients,
// Procedures and Diagnoses sheets.
func ExportXLSX(rep Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}
	w := &sheetWriter{f: f, header: header}

	if err := f.SetSheetName("Sheet1", "Summary"); err != nil {
		return nil, fmt.Errorf("rename default sheet: %w", err)
	}
	m := rep.Metrics
	summary := [][]interface{}{
		{"ICU Performance Report"},
		{fmt.Sprintf("Period: %s - %s", rep.Range.Start.Format(exportDate), rep.Range.End.Format(exportDate))},
		{},
		{"Metric", "Value"},
		{"Total Patients", m.TotalPatients},
		{"Critical Cases", m.CriticalCases},
		{"Medications Given", m.MedicationsGiven},
		{"Lab Tests", m.LabTests},
		{"Average Stay Duration", fmt.Sprintf("%.1f days", m.AverageStayDuration)},
		{"Bed Occupancy Rate", pct(m.BedOccupancyRate)},
		{"Readmission Rate", pct(m.ReadmissionRate)},
		{"Mortality Rate", pct(m.MortalityRate)},
	}
	if err := w.rows("Summary", summary, 4); err != nil {
		return nil, err
	}

	if _, err := f.NewSheet("Patients"); err != nil {
		return nil, fmt.Errorf("create patients sheet: %w", err)
	}
	patients := [][]interface{}{{"MRN", "Name", "Age", "Gender", "Diagnosis", "Bed", "Condition", "Status", "Admitted"}}
	for _, p := range rep.Patients {
		patients = append(patients, []interface{}{
			p.MRN, p.Name, p.Age, p.Gender, p.Diagnosis, p.BedNumber,
			string(p.Condition), string(p.DischargeStatus), p.AdmissionDate.Format(exportDate),
		})
	}
	if err := w.rows("Patients", patients, 1); err != nil {
		return nil, err
	}

	if _, err := f.NewSheet("Procedures"); err != nil {
		return nil, fmt.Errorf("create procedures sheet: %w", err)
	}
	procedures := [][]interface{}{{"Procedure", "Count"}}
	for _, p := range rep.Activities.TopProcedures {
		procedures = append(procedures, []interface{}{p.Name, p.Value})
	}
	if err := w.rows("Procedures", procedures, 1); err != nil {
		return nil, err
	}

	if _, err := f.NewSheet("Diagnoses"); err != nil {
		return nil, fmt.Errorf("create diagnoses sheet: %w", err)
	}
	diagnoses := [][]interface{}{{"Diagnosis", "Count"}}
	for _, d := range rep.Activities.CommonDiagnoses {
		diagnoses = append(diagnoses, []interface{}{d.Name, d.Value})
	}
	if err := w.rows("Diagnoses", diagnoses, 1); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
