package policy

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/changhorizon/content-collector/internal/collector"
	"github.com/changhorizon/content-collector/internal/pathmatch"
)

// PersistencePolicy decides whether a fetched page's content may be
// persisted. It must never be used to suppress link discovery or
// scheduling.
type PersistencePolicy struct {
	pages   collector.PageStore
	matcher *pathmatch.Matcher
}

// NewPersistencePolicy creates a PersistencePolicy.
func NewPersistencePolicy(pages collector.PageStore) *PersistencePolicy {
	return &PersistencePolicy{pages: pages, matcher: pathmatch.New()}
}

// Decide evaluates the site allow/deny rules for one URL. Rule order:
// in-task duplicate, then path rules under the configured priority mode.
// An unset or invalid priority means "black".
func (p *PersistencePolicy) Decide(
	ctx context.Context,
	taskID, host string,
	params collector.Params,
	rawURL string,
) (Decision, error) {
	exists, err := p.pages.ParsedPageExists(ctx, taskID, host, rawURL)
	if err != nil {
		return Decision{}, fmt.Errorf("check parsed page: %w", err)
	}
	if exists {
		return Skip("duplicate_in_task"), nil
	}

	priority := params.Site.Priority
	if priority != "black" && priority != "white" {
		priority = "black"
	}
	allow := sanitizeRules(params.Site.Allow)
	deny := sanitizeRules(params.Site.Deny)

	path := decodedPath(rawURL)

	if priority == "black" {
		if len(deny) > 0 && p.matcher.Matches(path, deny) {
			return Deny("path_denied"), nil
		}
		if len(allow) > 0 && !p.matcher.Matches(path, allow) {
			return Skip("path_not_allowed"), nil
		}
	} else {
		// White mode persists only what the allow list names; an empty
		// list allows nothing.
		if len(allow) == 0 || !p.matcher.Matches(path, allow) {
			return Skip("path_not_allowed"), nil
		}
		if len(deny) > 0 && p.matcher.Matches(path, deny) {
			return Deny("path_denied"), nil
		}
	}

	return Allow(), nil
}

// sanitizeRules drops empty entries so an empty list always means "no
// rules configured".
func sanitizeRules(rules []string) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}

// decodedPath returns the percent-decoded, lower-cased path with a
// guaranteed leading slash, defaulting to "/".
func decodedPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "/"
	}
	path := u.Path // already percent-decoded by url.Parse
	if path == "" {
		path = "/"
	}
	return strings.ToLower("/" + strings.TrimLeft(path, "/"))
}
