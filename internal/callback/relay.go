package callback

import (
	"net/url"
	"strings"
)

// ResponseMethodFormPost marks a callback that arrived as a form_post body.
const ResponseMethodFormPost = "form_post"

// RelayURL turns a form_post authorization response into a GET URL on path so
// the same decoder handles every response mode. The POSTed fields are carried
// over unchanged and response_method=form_post is appended.
func RelayURL(path string, form url.Values) string {
	q := url.Values{}
	for k, v := range form {
		if k == ResponseMethodParam || k == legacyResponseMethodParam {
			continue
		}
		q[k] = v
	}
	q.Set(ResponseMethodParam, ResponseMethodFormPost)

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + q.Encode()
}
