package tui

import (
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/opencommander/commander/internal/core"
)

// ResolveSession picks the session matching query, returning its index.
// An exact ID or name wins; otherwise the best fuzzy match on the session
// name is used. An empty query selects the first session.
func ResolveSession(sessions []core.Session, query string) (int, error) {
	if len(sessions) == 0 {
		return -1, core.ErrNotFound("session", "")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return 0, nil
	}
	for i, s := range sessions {
		if s.ID == query || strings.EqualFold(s.Name, query) {
			return i, nil
		}
	}

	names := make([]string, len(sessions))
	for i, s := range sessions {
		names[i] = s.Name
	}
	matches := fuzzy.Find(query, names)
	if len(matches) == 0 {
		return -1, core.ErrNotFound("session", query)
	}
	return matches[0].Index, nil
}
