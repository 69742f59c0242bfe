package extraction

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Vitals are the secondary fields read from a scan. Units are normalized:
// weight to kg, height to cm and temperature to Celsius.
type Vitals struct {
	PatientID     string `json:"patient_id"`
	BloodPressure string `json:"blood_pressure"`
	Weight        string `json:"weight"`
	Height        string `json:"height"`
	Temperature   string `json:"temperature"`
	Medications   string `json:"medications"`
}

const lbToKg = 0.45359237

// ExtractVitals reads patient id, vital signs and the medication list.
func ExtractVitals(text string) Vitals {
	lines := Lines(text)
	joined := strings.Join(lines, "\n")

	return Vitals{
		PatientID:     patientID(lines),
		BloodPressure: bloodPressure(joined),
		Weight:        weight(joined),
		Height:        height(joined),
		Temperature:   temperature(joined),
		Medications:   medications(lines, joined),
	}
}

var (
	patientIDLabel    = regexp.MustCompile(`(?i)\b(?:patient\s*id|mrn|pid|id|hospital\s+no|hno|record\s+no)\b\.?\s*[:\-#]?\s*` + value)
	patientIDPrefixed = regexp.MustCompile(`(?i)\b(PID|MRN|ID)[\s:\-]*(\d[A-Za-z0-9\-]*)`)
	patientIDToken    = regexp.MustCompile(`\b(PID[-\s]?\d{3,}|MRN[-\s]?\d{3,}|[A-Z0-9]{6,12})\b`)
	nonAlnum          = regexp.MustCompile(`[^A-Za-z0-9]`)
)

func patientID(lines []string) string {
	for _, line := range lines {
		if m := patientIDLabel.FindStringSubmatch(line); m != nil {
			if id := normalizePatientID(cleanValue(m[1])); id != "" {
				return id
			}
		}
	}
	for _, line := range lines {
		for _, tok := range patientIDToken.FindAllString(line, -1) {
			// all-caps words like MEDICAL are headings, not identifiers
			if strings.ContainsAny(tok, "0123456789") {
				if id := normalizePatientID(tok); id != "" {
					return id
				}
			}
		}
	}
	return ""
}

// normalizePatientID turns "pid 123", "MRN:00042" and similar into
// PREFIX-VALUE; bare values of reasonable length are compacted and upper-cased.
func normalizePatientID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if m := patientIDPrefixed.FindStringSubmatch(raw); m != nil {
		return strings.ToUpper(m[1]) + "-" + strings.ToUpper(m[2])
	}
	compact := nonAlnum.ReplaceAllString(raw, "")
	if len(compact) >= 4 && len(compact) <= 20 {
		return strings.ToUpper(compact)
	}
	return ""
}

var (
	bpLabeled = regexp.MustCompile(`(?i)\b(?:BP|B\.P\.|Blood\s+Pressure)\s*[:\-]?\s*(\d{2,3})\s*(?:/|over)\s*(\d{2,3})\b`)
	bpOver    = regexp.MustCompile(`(?i)\b(\d{2,3})\s*over\s*(\d{2,3})\b`)
	// the surrounding guards keep dates like 12/05/2023 out
	bpBare = regexp.MustCompile(`(?:^|[^/\d])(\d{2,3})\s*/\s*(\d{2,3})(?:[^/\d]|$)`)
)

func bloodPressure(text string) string {
	for _, re := range []*regexp.Regexp{bpLabeled, bpOver, bpBare} {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1] + "/" + m[2]
		}
	}
	return ""
}

var (
	weightLabeled = regexp.MustCompile(`(?i)\b(?:weight|wt)\.?\s*[:\-]?\s*(\d{1,3}(?:\.\d+)?)\s*(kgs?|kilograms|lbs?|pounds)?\b`)
	weightKg      = regexp.MustCompile(`(?i)\b(\d{1,3}(?:\.\d+)?)\s*(?:kgs?|kilograms)\b`)
	weightLb      = regexp.MustCompile(`(?i)\b(\d{2,3}(?:\.\d+)?)\s*(?:lbs?|pounds)\b`)
)

func weight(text string) string {
	if m := weightLabeled.FindStringSubmatch(text); m != nil {
		n, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			switch strings.ToLower(m[2]) {
			case "lb", "lbs", "pounds":
				return formatKg(n * lbToKg)
			default:
				return formatKg(n)
			}
		}
	}
	if m := weightKg.FindStringSubmatch(text); m != nil {
		if n, err := strconv.ParseFloat(m[1], 64); err == nil {
			return formatKg(n)
		}
	}
	if m := weightLb.FindStringSubmatch(text); m != nil {
		if n, err := strconv.ParseFloat(m[1], 64); err == nil {
			return formatKg(n * lbToKg)
		}
	}
	return ""
}

func formatKg(kg float64) string {
	return strconv.FormatFloat(round(kg, 2), 'f', -1, 64) + " kg"
}

var (
	heightLabeled = regexp.MustCompile(`(?i)\bheight\s*[:\-]?\s*(\d{2,3}(?:\.\d+)?)\s*(?:cm|centimeters)?\b`)
	heightFeet    = regexp.MustCompile(`(?i)\b(\d)\s*(?:ft|feet|')\s*(?:(\d{1,2})\s*(?:in|inches|")?)?`)
	heightCm      = regexp.MustCompile(`(?i)\b(\d{2,3})\s*cm\b`)
)

func height(text string) string {
	if m := heightLabeled.FindStringSubmatch(text); m != nil {
		return m[1] + " cm"
	}
	if m := heightFeet.FindStringSubmatch(text); m != nil {
		ft, _ := strconv.Atoi(m[1])
		in, _ := strconv.Atoi(m[2])
		cm := math.Round(float64(ft*12+in) * 2.54)
		return strconv.Itoa(int(cm)) + " cm"
	}
	if m := heightCm.FindStringSubmatch(text); m != nil {
		return m[1] + " cm"
	}
	return ""
}

var (
	tempLabeled = regexp.MustCompile(`(?i)\btemp(?:erature)?\.?\s*[:\-]?\s*(\d{2,3}(?:\.\d+)?)\s*(?:°|deg(?:rees)?)?\s*([cf])?\b`)
	tempUnit    = regexp.MustCompile(`(?i)\b(\d{2,3}(?:\.\d+)?)\s*(?:°|deg(?:rees)?)?\s*([cf])\b`)
)

// temperature reports Celsius. An unlabeled unit on a value above 60 can only
// be Fahrenheit.
func temperature(text string) string {
	if m := tempLabeled.FindStringSubmatch(text); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			if strings.EqualFold(m[2], "f") || (m[2] == "" && v > 60) {
				v = fahrenheitToCelsius(v)
			}
			return formatCelsius(v)
		}
	}
	if m := tempUnit.FindStringSubmatch(text); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			if strings.EqualFold(m[2], "f") {
				v = fahrenheitToCelsius(v)
			}
			return formatCelsius(v)
		}
	}
	return ""
}

func fahrenheitToCelsius(f float64) float64 {
	return (f - 32) * 5 / 9
}

func formatCelsius(c float64) string {
	return strconv.FormatFloat(round(c, 1), 'f', 1, 64) + " C"
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

var (
	medicationLabel = regexp.MustCompile(`(?i)\b(?:medications?|rx|prescription|treatment\s+plan)\b\.?\s*[:\-]?\s*` + value)
	dosage          = regexp.MustCompile(`(?i)\b([A-Za-z][A-Za-z0-9\-()]+\s+\d+\s*(?:mg|g|ml|mcg|iu))\b`)
	dosageLine      = regexp.MustCompile(`(?i)\d+\s*(?:mg|ml|g)\b`)
	whitespaceRun   = regexp.MustCompile(`\s+`)
)

func medications(lines []string, text string) string {
	var meds []string
	if block := firstSubmatch(lines, medicationLabel); block != "" {
		meds = splitMedications(block)
	} else {
		for _, m := range dosage.FindAllStringSubmatch(text, -1) {
			meds = append(meds, m[1])
		}
		if len(meds) == 0 {
			for _, line := range lines {
				lower := strings.ToLower(line)
				if strings.HasPrefix(lower, "rx") || strings.HasPrefix(lower, "prescription") || dosageLine.MatchString(line) {
					meds = append(meds, line)
				}
			}
		}
	}
	return joinUnique(meds)
}

func firstSubmatch(lines []string, re *regexp.Regexp) string {
	for _, line := range lines {
		if m := re.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// splitMedications splits on ";" and on "," when the next item starts with a
// letter, so "Paracetamol 1,000 mg" stays whole.
func splitMedications(block string) []string {
	var out []string
	for _, part := range strings.Split(block, ";") {
		pieces := strings.Split(part, ",")
		cur := pieces[0]
		for _, p := range pieces[1:] {
			t := strings.TrimSpace(p)
			if t != "" && isLetter(t[0]) {
				out = append(out, cur)
				cur = t
			} else {
				cur += "," + p
			}
		}
		out = append(out, cur)
	}
	return out
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// joinUnique drops blanks and case-insensitive duplicates, keeping first
// spelling and order.
func joinUnique(items []string) string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, s := range items {
		s = strings.Trim(s, " •‣․◦-")
		s = whitespaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return strings.Join(out, "; ")
}
