package models

// Heading is a single h1-h6 element in document order
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// PageSnapshot is the output of the fetch stage: everything the scorers
// need, captured once so rule and semantic scoring never re-fetch.
// HTML and Text are truncated to MaxCaptureBytes before scoring.
type PageSnapshot struct {
	URL             string    `json:"url"`
	FinalURL        string    `json:"final_url"`
	StatusCode      int       `json:"status_code"`
	Title           string    `json:"title"`
	MetaDescription string    `json:"meta_description"`
	Canonical       string    `json:"canonical"`
	OGTagCount      int       `json:"og_tag_count"`
	HasViewport     bool      `json:"has_viewport"`
	IsHTTPS         bool      `json:"is_https"`
	Headings        []Heading `json:"headings"`
	StructuredTypes []string  `json:"structured_types"`
	HasStructured   bool      `json:"has_structured"`
	HTML            string    `json:"html"`
	Text            string    `json:"text"`
	LoadTimeSeconds float64   `json:"load_time_seconds"`
	Screenshot      []byte    `json:"-"`
}

// MaxCaptureBytes caps stored page HTML and extracted text
const MaxCaptureBytes = 50000

// HeadingCount returns the number of headings at the given level
func (s *PageSnapshot) HeadingCount(level int) int {
	n := 0
	for _, h := range s.Headings {
		if h.Level == level {
			n++
		}
	}
	return n
}
