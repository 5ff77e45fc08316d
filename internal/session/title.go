package session

import "strings"

// loginSuffix is what ttyd appends to the shell title, e.g.
// "droid@debian: ~ | login -f droid (debian)".
const loginSuffix = " | login -f "

// DisplayTitle strips the ttyd login command from a page title.
func DisplayTitle(raw string) string {
	if i := strings.LastIndex(raw, loginSuffix); i >= 0 {
		return raw[:i]
	}
	return raw
}
