package records

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// NormalizedRecord is the canonical view of a record whatever shape it
// arrived in. It is built once by Normalize and never modified.
type NormalizedRecord struct {
	ID                   string `json:"id"`
	PatientID            string `json:"patient_id"`
	Name                 string `json:"name"`
	Age                  string `json:"age"`
	Sex                  string `json:"sex"`
	Diagnosis            string `json:"diagnosis"`
	DiagnosisIsExtracted bool   `json:"diagnosis_is_extracted"`
	Medications          string `json:"medications"`
	RawText              string `json:"raw_text"`
	CreatedAt            string `json:"created_at"`
	DateRecorded         string `json:"date_recorded"`
	BloodPressure        string `json:"blood_pressure"`
	Weight               string `json:"weight"`
	Height               string `json:"height"`
	Temperature          string `json:"temperature"`
	ImageURL             string `json:"image_url"`
	DoctorName           string `json:"doctor_name"`
}

// Alias lists, highest priority first.
var (
	idKeys            = []string{"id", "record_id", "recordId", "_id"}
	patientIDKeys     = []string{"patient_id", "patientId", "pid", "mrn"}
	nameKeys          = []string{"patient_name", "patientName", "name", "full_name", "fullName"}
	ageKeys           = []string{"age", "patient_age", "patientAge"}
	sexKeys           = []string{"sex", "gender", "patient_sex"}
	diagnosisKeys     = []string{"diagnosis", "impression", "summary", "notes"}
	medicationKeys    = []string{"medications", "prescription", "meds", "rx"}
	rawTextKeys       = []string{"raw_text", "rawText", "ocr_text", "text"}
	createdAtKeys     = []string{"created_at", "createdAt", "timestamp", "uploaded_at"}
	recordDateKeys    = []string{"record_date", "date_recorded", "date"}
	bloodPressureKeys = []string{"blood_pressure", "bloodPressure", "bp"}
	weightKeys        = []string{"weight"}
	heightKeys        = []string{"height"}
	temperatureKeys   = []string{"temperature", "temp"}
	imageURLKeys      = []string{"image_url", "imageUrl", "url"}
	doctorNameKeys    = []string{"doctor_name", "doctorName", "doctor"}
)

// maxDerivedDiagnosis bounds a diagnosis taken from the first line of OCR text.
const maxDerivedDiagnosis = 240

// Normalize resolves field aliases, coerces timestamps and derives a
// diagnosis from the raw text when none is given. The input is not modified.
func Normalize(raw map[string]any) NormalizedRecord {
	n := NormalizedRecord{
		ID:            lookup(raw, idKeys),
		PatientID:     lookup(raw, patientIDKeys),
		Name:          lookup(raw, nameKeys),
		Age:           lookup(raw, ageKeys),
		Sex:           lookup(raw, sexKeys),
		Medications:   lookup(raw, medicationKeys),
		BloodPressure: lookup(raw, bloodPressureKeys),
		Weight:        lookup(raw, weightKeys),
		Height:        lookup(raw, heightKeys),
		Temperature:   lookup(raw, temperatureKeys),
		ImageURL:      lookup(raw, imageURLKeys),
		DoctorName:    lookup(raw, doctorNameKeys),
	}

	if v, ok := first(raw, rawTextKeys); ok {
		n.RawText = stringify(v)
	}

	if v, ok := first(raw, createdAtKeys); ok {
		n.CreatedAt = CoerceTimestamp(v)
	}

	if v, ok := first(raw, recordDateKeys); ok {
		n.DateRecorded = datePart(CoerceTimestamp(v))
	}
	if n.DateRecorded == "" {
		n.DateRecorded = datePart(n.CreatedAt)
	}

	if d := lookup(raw, diagnosisKeys); d != "" {
		n.Diagnosis = d
	} else if line := firstLine(n.RawText); line != "" {
		n.Diagnosis = truncateRunes(line, maxDerivedDiagnosis)
		n.DiagnosisIsExtracted = true
	}

	return n
}

// NormalizeAll applies Normalize to each record row.
func NormalizeAll(recs []*Record) []NormalizedRecord {
	out := make([]NormalizedRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, Normalize(r.Map()))
	}
	return out
}

// first returns the value of the first present alias. Present means the key
// exists, is non-nil and does not stringify to blank.
func first(raw map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if strings.TrimSpace(stringify(v)) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

func lookup(raw map[string]any, keys []string) string {
	v, ok := first(raw, keys)
	if !ok {
		return ""
	}
	return strings.TrimSpace(stringify(v))
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case *string:
		if t == nil {
			return ""
		}
		return *t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return formatTimestamp(t)
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func firstLine(text string) string {
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	return ""
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

func datePart(ts string) string {
	if len(ts) < 10 {
		return ""
	}
	return ts[:10]
}
