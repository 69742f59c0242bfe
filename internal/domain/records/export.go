package records

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"
)

const exportPageSize = 500

var exportHeader = []string{
	"ID", "Patient ID", "Name", "Age", "Sex", "Diagnosis", "Diagnosis Extracted",
	"Medications", "Blood Pressure", "Weight", "Height", "Temperature",
	"Doctor", "Date Recorded", "Created At",
}

// ExportCSV writes all of the owner's records matching search as CSV. Rows
// go through Normalize so the export matches what the list endpoint shows.
// Nothing is written to w until the first page has loaded, so a failing
// query can still become an error response.
func (s *Service) ExportCSV(ctx context.Context, owner uuid.UUID, search string, w io.Writer) error {
	list := func(offset int) (*Page, error) {
		return s.repo.List(ctx, owner, Query{Search: search, Limit: exportPageSize, Offset: offset})
	}
	page, err := list(0)
	if err != nil {
		return fmt.Errorf("records export csv: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("records export csv: write header: %w", err)
	}
	for offset := 0; ; {
		for _, n := range NormalizeAll(page.Records) {
			if err := cw.Write(csvRow(n)); err != nil {
				return fmt.Errorf("records export csv: write record: %w", err)
			}
		}
		if len(page.Records) < exportPageSize || offset+exportPageSize >= page.Total {
			break
		}
		offset += exportPageSize
		if page, err = list(offset); err != nil {
			cw.Flush()
			return fmt.Errorf("records export csv: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(n NormalizedRecord) []string {
	return []string{
		n.ID, n.PatientID, n.Name, n.Age, n.Sex, n.Diagnosis,
		strconv.FormatBool(n.DiagnosisIsExtracted),
		n.Medications, n.BloodPressure, n.Weight, n.Height, n.Temperature,
		n.DoctorName, n.DateRecorded, n.CreatedAt,
	}
}
