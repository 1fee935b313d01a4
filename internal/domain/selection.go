package domain

// SelectionKind tells what a SelectionContext currently holds.
type SelectionKind string

const (
	SelectionNone SelectionKind = "none"
	SelectionText SelectionKind = "text"
	SelectionURL  SelectionKind = "url"
)

// SelectionContext is ephemeral input captured by the desktop collaborator:
// either selected text with its source application, or a browser URL.
type SelectionContext struct {
	Text      string `json:"txt,omitempty"`
	SourceApp string `json:"app,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Kind returns what the context holds. A URL wins over text.
func (s SelectionContext) Kind() SelectionKind {
	switch {
	case s.URL != "":
		return SelectionURL
	case s.Text != "":
		return SelectionText
	default:
		return SelectionNone
	}
}

// Empty reports whether nothing is selected.
func (s SelectionContext) Empty() bool {
	return s.Kind() == SelectionNone
}
