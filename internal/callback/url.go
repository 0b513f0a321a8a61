package callback

import (
	"fmt"
	"net/url"
	"strings"
)

// resolveURL implements spec.md §4.7's URL resolution rule: an absolute
// target (http:// or https://) is used verbatim unless a base is
// configured, in which case the base's scheme and host replace the
// target's, preserving path/query/fragment. A relative target is joined
// to the base. A relative target with no base configured is an error —
// the caller skips the callback and logs a warning.
func resolveURL(target, base string) (string, error) {
	if isAbsoluteURL(target) {
		if base == "" {
			return target, nil
		}
		tu, err := url.Parse(target)
		if err != nil {
			return "", fmt.Errorf("callback: malformed target URL %q: %w", target, err)
		}
		bu, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("callback: malformed base URL %q: %w", base, err)
		}
		tu.Scheme = bu.Scheme
		tu.Host = bu.Host
		return tu.String(), nil
	}

	if base == "" {
		return "", fmt.Errorf("callback: relative target %q with no base URL configured", target)
	}
	bu, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("callback: malformed base URL %q: %w", base, err)
	}
	ref, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("callback: malformed relative target %q: %w", target, err)
	}
	return bu.ResolveReference(ref).String(), nil
}

func isAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
