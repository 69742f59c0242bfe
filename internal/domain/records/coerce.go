package records

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Changes maps column names to new values for a partial update.
type Changes map[string]any

// writableKeys lists the body keys a client may set, in statement order.
// "date" is the web client's name for record_date.
var writableKeys = []string{
	"patient_name", "patient_id", "raw_text", "diagnosis", "medications",
	"age", "sex", "blood_pressure", "weight", "height", "temperature",
	"date", "record_date", "image_url", "doctor_name",
}

func columnFor(key string) string {
	if key == "date" {
		return "record_date"
	}
	return key
}

// ChangesFrom picks the writable keys out of a request body and coerces
// numeric columns. Blank or unparseable numbers become NULL.
func ChangesFrom(body map[string]any) Changes {
	ch := Changes{}
	for _, key := range writableKeys {
		v, ok := body[key]
		if !ok {
			continue
		}
		col := columnFor(key)
		if prev, ok := ch[col].(*string); ok && prev != nil {
			// "date" wins over "record_date" when both are sent
			continue
		}
		switch col {
		case "age":
			ch[col] = coerceInt(v)
		case "weight", "height", "temperature":
			ch[col] = coerceFloat(v)
		case "patient_name", "raw_text":
			ch[col] = strings.TrimSpace(stringify(v))
		default:
			ch[col] = optionalString(v)
		}
	}
	return ch
}

// Columns returns the changed columns in a stable order.
func (c Changes) Columns() []string {
	cols := make([]string, 0, len(c))
	seen := map[string]bool{}
	for _, key := range writableKeys {
		col := columnFor(key)
		if _, ok := c[col]; ok && !seen[col] {
			seen[col] = true
			cols = append(cols, col)
		}
	}
	return cols
}

func coerceInt(v any) *int {
	f := coerceFloat(v)
	if f == nil || *f > math.MaxInt32 || *f < math.MinInt32 {
		return nil
	}
	n := int(*f)
	return &n
}

func coerceFloat(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		p, err := t.Float64()
		if err != nil {
			return nil
		}
		f = p
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		f = p
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func optionalString(v any) *string {
	s := strings.TrimSpace(stringify(v))
	if s == "" {
		return nil
	}
	return &s
}

// recordFromChanges builds a new row from a create body.
func recordFromChanges(ch Changes) *Record {
	r := &Record{}
	r.PatientName, _ = ch["patient_name"].(string)
	r.RawText, _ = ch["raw_text"].(string)
	r.PatientID, _ = ch["patient_id"].(*string)
	r.Diagnosis, _ = ch["diagnosis"].(*string)
	r.Medications, _ = ch["medications"].(*string)
	r.Age, _ = ch["age"].(*int)
	r.Sex, _ = ch["sex"].(*string)
	r.BloodPressure, _ = ch["blood_pressure"].(*string)
	r.Weight, _ = ch["weight"].(*float64)
	r.Height, _ = ch["height"].(*float64)
	r.Temperature, _ = ch["temperature"].(*float64)
	r.RecordDate, _ = ch["record_date"].(*string)
	r.ImageURL, _ = ch["image_url"].(*string)
	r.DoctorName, _ = ch["doctor_name"].(*string)
	return r
}

// Record turns the normalized view back into an insertable row. A diagnosis
// derived from the raw text stays a display value and is not stored.
func (n NormalizedRecord) Record() *Record {
	body := map[string]any{
		"patient_name":   n.Name,
		"patient_id":     n.PatientID,
		"raw_text":       n.RawText,
		"medications":    n.Medications,
		"age":            n.Age,
		"sex":            n.Sex,
		"blood_pressure": n.BloodPressure,
		"weight":         n.Weight,
		"height":         n.Height,
		"temperature":    n.Temperature,
		"record_date":    n.DateRecorded,
		"image_url":      n.ImageURL,
		"doctor_name":    n.DoctorName,
	}
	if !n.DiagnosisIsExtracted {
		body["diagnosis"] = n.Diagnosis
	}
	rec := recordFromChanges(ChangesFrom(body))
	if t, err := time.Parse(isoMillis, n.CreatedAt); err == nil {
		rec.CreatedAt = t
	}
	return rec
}
