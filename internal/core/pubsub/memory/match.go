package memory

import "strings"

// matchSubject reports whether subject matches pattern. Patterns use NATS
// wildcards: "*" matches one token, a trailing ">" matches one or more.
func matchSubject(pattern, subject string) bool {
	if pattern == "" || subject == "" {
		return false
	}
	for {
		p, restPattern, morePattern := strings.Cut(pattern, ".")
		if p == ">" {
			return !morePattern && subject != ""
		}
		s, restSubject, moreSubject := strings.Cut(subject, ".")
		if p != "*" && p != s {
			return false
		}
		if !morePattern || !moreSubject {
			return morePattern == moreSubject
		}
		pattern, subject = restPattern, restSubject
	}
}
