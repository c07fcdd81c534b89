package browser

import (
	"net/url"
	"strconv"
	"strings"

	"unsplashdl/pkg/sizing"
)

// PhotoURL returns the photo page for id
func PhotoURL(baseURL, id string) string {
	return strings.TrimRight(baseURL, "/") + "/photos/" + url.PathEscape(id)
}

// DownloadURL builds the forced download link for id. A nil width asks for
// the original file.
func DownloadURL(baseURL, id, token string, width *int) string {
	q := url.Values{}
	q.Set("ixid", token)
	q.Set("force", "true")
	if width != nil {
		q.Set("w", strconv.Itoa(*width))
	}
	return PhotoURL(baseURL, id) + "/download?" + q.Encode()
}

// RequestURL builds the download link for a selection
func RequestURL(baseURL, id, token string, sel sizing.Selection) string {
	return DownloadURL(baseURL, id, token, sel.Width)
}

// TokenFromURLs returns the first non-empty ixid query parameter found in
// candidates. Unparseable candidates are ignored.
func TokenFromURLs(candidates []string) string {
	for _, c := range candidates {
		u, err := url.Parse(strings.TrimSpace(c))
		if err != nil {
			continue
		}
		if token := u.Query().Get("ixid"); token != "" {
			return token
		}
	}
	return ""
}
