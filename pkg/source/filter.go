package source

import "strings"

// NormalizeName lowercases and trims a keyword or subreddit name. A leading
// "r/" on subreddit names is dropped.
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimPrefix(s, "r/")
}

// NormalizeList normalizes every entry, dropping blanks and duplicates while
// keeping first-seen order.
func NormalizeList(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, s := range list {
		n := NormalizeName(s)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// Scope holds the subreddit whitelist and blacklist for one run.
type Scope struct {
	whitelist []string
	blacklist map[string]bool
}

// NewScope creates a scope. An empty whitelist means global search.
func NewScope(whitelist, blacklist []string) *Scope {
	bl := make(map[string]bool, len(blacklist))
	for _, s := range NormalizeList(blacklist) {
		bl[s] = true
	}
	return &Scope{whitelist: NormalizeList(whitelist), blacklist: bl}
}

// Scoped reports whether searches are restricted to whitelisted subreddits.
func (s *Scope) Scoped() bool { return len(s.whitelist) > 0 }

// Whitelist returns the normalized whitelist.
func (s *Scope) Whitelist() []string { return s.whitelist }

// Excluded reports whether a subreddit is blacklisted, case-insensitively.
func (s *Scope) Excluded(subreddit string) bool {
	return s.blacklist[NormalizeName(subreddit)]
}
