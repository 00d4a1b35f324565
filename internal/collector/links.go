package collector

import "net/url"

// LinkExtractor resolves raw link strings against a base URL, normalizes
// them, and keeps only links on the task's host. Cross-host links are
// discovered by the parser but never scheduled.
type LinkExtractor struct {
	taskHost string
}

// NewLinkExtractor creates an extractor scoped to one host.
func NewLinkExtractor(taskHost string) *LinkExtractor {
	return &LinkExtractor{taskHost: taskHost}
}

// Extract resolves and filters rawLinks, returning normalized same-host
// URLs with duplicates removed, in input order.
func (e *LinkExtractor) Extract(rawLinks []string, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{}, len(rawLinks))
	out := make([]string, 0, len(rawLinks))

	for _, raw := range rawLinks {
		ref, err := url.Parse(raw)
		if err != nil {
			continue
		}
		resolved := base.ResolveReference(ref)
		switch resolved.Scheme {
		case "http", "https":
		default:
			continue
		}

		normalized, err := NormalizeURL(resolved.String())
		if err != nil {
			continue
		}

		host, err := HostOf(normalized)
		if err != nil || host != e.taskHost {
			continue
		}

		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}

	return out
}
