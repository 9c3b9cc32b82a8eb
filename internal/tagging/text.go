package tagging

import (
	"net/http"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
)

// TextForTagging returns the analyzable text of raw component content.
// HTML is converted to Markdown so markup does not leak into candidates;
// plain text passes through; anything else yields "".
func TextForTagging(content []byte) string {
	ct := http.DetectContentType(content)
	switch {
	case strings.HasPrefix(ct, "text/html"):
		converter := md.NewConverter("", true, nil)
		out, err := converter.ConvertString(string(content))
		if err != nil {
			return string(content)
		}
		return out
	case strings.HasPrefix(ct, "text/"):
		return string(content)
	default:
		return ""
	}
}
