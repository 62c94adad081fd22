// Package voices holds the voice catalog: the identifiers a caller may
// embed in a synthesis request.
package voices

// Voice is one catalog entry.
type Voice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Lang string `json:"lang"`
}

var catalog = []Voice{
	{ID: "en", Name: "English (US)", Lang: "en"},
	{ID: "en-uk", Name: "English (UK)", Lang: "en-uk"},
	{ID: "en-au", Name: "English (Australia)", Lang: "en-au"},
	{ID: "en-in", Name: "English (India)", Lang: "en-in"},
}

// Catalog returns the built-in voice set.
func Catalog() []Voice {
	out := make([]Voice, len(catalog))
	copy(out, catalog)
	return out
}

// Default is the voice used when a request names none.
func Default() Voice { return catalog[0] }

// Lookup reports whether id names a known voice.
func Lookup(id string) (Voice, bool) {
	for _, v := range catalog {
		if v.ID == id {
			return v, true
		}
	}
	return Voice{}, false
}
