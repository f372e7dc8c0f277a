package bridge

import "strings"

// textualCategories are content-type fragments considered confidently
// textual. Resources matching any of them are NOT sent for scanning.
var textualCategories = []string{"text/", "script/", "application/"}

// Eligible reports whether a resource with the given declared content type
// should be scanned. Anything not clearly textual is eligible, including a
// missing content type.
//
// This skips JSON and JavaScript responses, which are the likeliest places
// for embedded secrets. The behaviour is kept as-is until the intended
// product semantics are settled; see DESIGN.md.
func Eligible(contentType string) bool {
	for _, category := range textualCategories {
		if strings.Contains(contentType, category) {
			return false
		}
	}
	return true
}
