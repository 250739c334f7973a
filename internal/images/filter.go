package images

import (
	"path"
	"strings"
)

// photoExtensions are the file types accepted as photographs.
var photoExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif", ".tif", ".tiff"}

// junkTerms mark media that is not a photograph of the animal. Matched as
// whole words in the file title.
var junkTerms = []string{
	"map", "maps", "logo", "logos", "icon", "icons", "diagram", "diagrams",
	"flag", "flags", "coat of arms", "wappen", "distribution", "range", "ranges",
	"locator", "symbol", "chart", "signature", "seal", "stamp", "stamps",
}

// IsPhoto reports whether a media file title ("File:Robin 01.jpg") looks like a
// photograph worth showing.
func IsPhoto(title string) bool {
	name := strings.TrimPrefix(strings.TrimSpace(title), "File:")
	if name == "" {
		return false
	}
	ext := strings.ToLower(path.Ext(name))
	if !hasExt(ext) {
		return false
	}
	words := " " + strings.Join(splitWords(strings.TrimSuffix(strings.ToLower(name), ext)), " ") + " "
	for _, term := range junkTerms {
		if strings.Contains(words, " "+term+" ") {
			return false
		}
	}
	return true
}

func hasExt(ext string) bool {
	for _, e := range photoExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})
}
