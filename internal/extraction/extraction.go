// Package extraction pulls structured medical-record fields out of raw OCR
// text. Every function here is total: malformed or empty input yields empty
// fields, never an error.
package extraction

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Fields is the result of ExtractFields. All keys are always present in the
// JSON form.
type Fields struct {
	PatientName  string `json:"patientName"`
	Age          string `json:"age"`
	Gender       string `json:"gender"`
	Date         string `json:"date"`
	Diagnosis    string `json:"diagnosis"`
	Prescription string `json:"prescription"`
}

// matcher is one step of a field's pipeline. It reports "" when the line
// does not match.
type matcher struct {
	re   *regexp.Regexp
	post func(string) string
}

func (m matcher) match(line string) string {
	sub := m.re.FindStringSubmatch(line)
	if sub == nil {
		return ""
	}
	v := cleanValue(sub[len(sub)-1])
	if m.post != nil && v != "" {
		v = m.post(v)
	}
	return v
}

func label(pattern string) matcher {
	return matcher{re: regexp.MustCompile(pattern)}
}

// value captures the text after a label, refusing to start on a separator.
const value = `([^\s:\-].*)$`

var (
	nameMatchers = []matcher{
		label(`(?i)^(?:patient\s*name|full\s*name|pt\.?\s*name|name)\s*[:\-]\s*` + value),
		label(`(?i)^patient\s*[:\-]\s*` + value),
		label(`(?i)^(?:mrs|mr|ms|miss)\.?\s+([A-Za-z][A-Za-z .'\-]*)$`),
	}
	ageMatchers = []matcher{
		label(`(?i)\bage\s*[:\-]?\s*(\d{1,3})\b`),
		label(`(?i)\b(\d{1,3})\s*(?:years?|yrs?|y/o|yo)\b`),
	}
	genderMatchers = []matcher{
		{re: regexp.MustCompile(`(?i)\b(?:gender|sex)\b\s*[:\-]?\s*([A-Za-z]+)`), post: normalizeGender},
	}
	dateMatchers = []matcher{
		label(`(?i)^(?:date\s+of\s+visit|visit\s+date|dated|date)\s*[:\-]?\s*(\d{1,4}[/.\-]\d{1,2}[/.\-]\d{1,4})`),
		label(`(?i)^(?:date\s+of\s+visit|visit\s+date|dated|date)\s*[:\-]\s*` + value),
		label(`\b(\d{4}-\d{1,2}-\d{1,2}|\d{1,2}[/.\-]\d{1,2}[/.\-]\d{2,4})\b`),
	}
	diagnosisMatchers = []matcher{
		label(`(?i)^(?:diagnos[ie]s|impressions?|assessments?)\b\s*[:\-]?\s*` + value),
		label(`(?i)^dx\s*[:\-]\s*` + value),
		label(`(?i)\bdiagnosed\s+with\s+` + value),
	}
	prescriptionMatchers = []matcher{
		label(`(?i)^(?:prescription|rx|medications?|treatment\s+plan|treatment|drugs?)\b\.?\s*[:\-]?\s*` + value),
	}
)

// normalizeGender maps any token starting with "m" to Male and everything
// else to Female. Non-binary and unknown values are not represented.
func normalizeGender(v string) string {
	if strings.HasPrefix(strings.ToLower(v), "m") {
		return "Male"
	}
	return "Female"
}

// ExtractFields scans text line by line. For each field the first line that
// any of its patterns matches wins; patterns are tried in order per line.
func ExtractFields(text string) Fields {
	lines := Lines(text)

	f := Fields{
		PatientName:  firstMatch(lines, nameMatchers),
		Age:          firstMatch(lines, ageMatchers),
		Gender:       firstMatch(lines, genderMatchers),
		Date:         firstMatch(lines, dateMatchers),
		Diagnosis:    firstMatch(lines, diagnosisMatchers),
		Prescription: firstMatch(lines, prescriptionMatchers),
	}

	if f.PatientName == "" {
		f.PatientName = fallbackName(lines)
	}
	if f.Age == "" {
		f.Age = fallbackAge(lines)
	}
	return f
}

func firstMatch(lines []string, matchers []matcher) string {
	for _, line := range lines {
		for _, m := range matchers {
			if v := m.match(line); v != "" {
				return v
			}
		}
	}
	return ""
}

var (
	capitalizedWord = regexp.MustCompile(`\b[A-Z][a-z]+\b`)
	pairGap         = regexp.MustCompile(`^,?\s+$`)

	// words that commonly start a record line and are never part of a name
	labelWords = map[string]bool{
		"patient": true, "name": true, "full": true, "age": true, "gender": true,
		"sex": true, "date": true, "visit": true, "diagnosis": true, "impression": true,
		"assessment": true, "prescription": true, "medication": true, "medications": true,
		"treatment": true, "plan": true, "blood": true, "pressure": true, "weight": true,
		"height": true, "temperature": true, "medical": true, "record": true,
		"records": true, "hospital": true, "clinic": true, "doctor": true, "dr": true,
		"follow": true, "history": true, "complaint": true, "chief": true, "notes": true,
		"male": true, "female": true, "years": true, "report": true, "department": true,
	}
)

// fallbackName returns the first two adjacent capitalized words, optionally
// separated by a comma, neither of which is a label word. Pairs are tried at
// every word so a rejected pair does not hide the one starting inside it.
func fallbackName(lines []string) string {
	for _, line := range lines {
		words := capitalizedWord.FindAllStringIndex(line, -1)
		for i := 0; i+1 < len(words); i++ {
			a, b := words[i], words[i+1]
			if !pairGap.MatchString(line[a[1]:b[0]]) {
				continue
			}
			first, second := line[a[0]:a[1]], line[b[0]:b[1]]
			if labelWords[strings.ToLower(first)] || labelWords[strings.ToLower(second)] {
				continue
			}
			return first + " " + second
		}
	}
	return ""
}

func fallbackAge(lines []string) string {
	for _, line := range lines {
		for _, tok := range strings.Fields(line) {
			tok = strings.Trim(tok, ".,;:()[]")
			if tok == "" || len(tok) > 3 || strings.Trim(tok, "0123456789") != "" {
				continue
			}
			n := 0
			for _, r := range tok {
				n = n*10 + int(r-'0')
			}
			if n >= 1 && n <= 100 {
				return trimLeadingZeros(tok)
			}
		}
	}
	return ""
}

func trimLeadingZeros(s string) string {
	t := strings.TrimLeft(s, "0")
	if t == "" {
		return "0"
	}
	return t
}

var (
	dashReplacer = strings.NewReplacer("\r\n", "\n", "\r", "\n", "\t", " ", "–", "-", "—", "-", "−", "-")
	columnBreak  = regexp.MustCompile(`\s{2,}|\s*\|\s*`)
	// a following label on the same line ends the value ("Name: Jane Doe Age: 34")
	nextLabel = regexp.MustCompile(`(?i)\s+\b(?:age|sex|gender|date|dob)\b\s*[:\-]`)
)

// Lines normalizes OCR noise and returns the non-empty trimmed lines.
func Lines(text string) []string {
	if text == "" {
		return nil
	}
	text = dashReplacer.Replace(norm.NFKC.String(text))

	var out []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// cleanValue cuts a captured value at the first column break, which OCR
// produces for tabular forms ("Name: Jane Doe    Age: 34").
func cleanValue(v string) string {
	v = strings.TrimSpace(v)
	if loc := columnBreak.FindStringIndex(v); loc != nil {
		v = v[:loc[0]]
	}
	if loc := nextLabel.FindStringIndex(v); loc != nil {
		v = v[:loc[0]]
	}
	return strings.TrimRight(strings.TrimSpace(v), ".,;")
}
