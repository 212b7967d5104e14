package logger

import "strings"

// RedactEmail masks a contact address before it reaches the logs.
// "jane.doe@example.com" becomes "ja***@example.com". Local parts of two
// characters or fewer are masked entirely, and anything that does not look
// like an address collapses to "***@***".
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}
