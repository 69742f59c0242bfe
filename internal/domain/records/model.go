package records

import (
	"time"

	"github.com/google/uuid"
)

// Record is a stored medical record row. Optional columns are pointers so
// that NULL survives a round trip.
type Record struct {
	ID            uuid.UUID  `json:"id"`
	UserID        *uuid.UUID `json:"user_id"`
	PatientName   string     `json:"patient_name"`
	PatientID     *string    `json:"patient_id"`
	RawText       string     `json:"raw_text"`
	Diagnosis     *string    `json:"diagnosis"`
	Medications   *string    `json:"medications"`
	Age           *int       `json:"age"`
	Sex           *string    `json:"sex"`
	BloodPressure *string    `json:"blood_pressure"`
	Weight        *float64   `json:"weight"`
	Height        *float64   `json:"height"`
	Temperature   *float64   `json:"temperature"`
	RecordDate    *string    `json:"record_date"`
	ImageURL      *string    `json:"image_url"`
	DoctorName    *string    `json:"doctor_name"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Map exposes the row the way an upstream service would serialize it, which
// is what Normalize consumes.
func (r *Record) Map() map[string]any {
	m := map[string]any{
		"id":           r.ID.String(),
		"patient_name": r.PatientName,
		"raw_text":     r.RawText,
		"created_at":   r.CreatedAt,
		"updated_at":   r.UpdatedAt,
	}
	if r.UserID != nil {
		m["user_id"] = r.UserID.String()
	}
	putString(m, "patient_id", r.PatientID)
	putString(m, "diagnosis", r.Diagnosis)
	putString(m, "medications", r.Medications)
	putString(m, "sex", r.Sex)
	putString(m, "blood_pressure", r.BloodPressure)
	putString(m, "record_date", r.RecordDate)
	putString(m, "image_url", r.ImageURL)
	putString(m, "doctor_name", r.DoctorName)
	if r.Age != nil {
		m["age"] = *r.Age
	}
	putFloat(m, "weight", r.Weight)
	putFloat(m, "height", r.Height)
	putFloat(m, "temperature", r.Temperature)
	return m
}

func putString(m map[string]any, k string, v *string) {
	if v != nil {
		m[k] = *v
	}
}

func putFloat(m map[string]any, k string, v *float64) {
	if v != nil {
		m[k] = *v
	}
}

// Query filters a caller's records. Search matches patient name or OCR text.
type Query struct {
	Search string
	Limit  int
	Offset int
}

// DiagnosisCount is one row of the stats breakdown.
type DiagnosisCount struct {
	Diagnosis string `json:"diagnosis"`
	Count     int    `json:"count"`
}

type Stats struct {
	TotalPatients int              `json:"total_patients"`
	Diagnoses     []DiagnosisCount `json:"diagnoses"`
}

// Page is one page of a caller's records.
type Page struct {
	Records []*Record
	Total   int
}
