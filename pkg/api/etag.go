package api

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// entityTags returns the tags of every If-None-Match header on r with
// quotes and weak prefixes removed.
func entityTags(r *http.Request) []string {
	var tags []string
	for _, header := range r.Header.Values("If-None-Match") {
		for _, tag := range strings.Split(header, ",") {
			tag = strings.TrimSpace(tag)
			tag = strings.TrimPrefix(tag, "W/")
			tag = strings.Trim(tag, `"`)
			if tag != "" {
				tags = append(tags, tag)
			}
		}
	}
	return tags
}

// matchesAny reports whether one of tags names an available hash. "*"
// matches when anything is available.
func matchesAny(tags, available []string) bool {
	if len(tags) == 0 || len(available) == 0 {
		return false
	}
	set := make(map[string]bool, len(available))
	for _, hash := range available {
		set[hash] = true
	}
	for _, tag := range tags {
		if tag == "*" || set[tag] {
			return true
		}
	}
	return false
}

// notModified answers a conditional request with 304 when its tag names a
// hash listed by available. Listing failures are logged and the request
// proceeds unconditionally.
func (api *API) notModified(w http.ResponseWriter, r *http.Request, available func(ctx context.Context) ([]string, error)) bool {
	tags := entityTags(r)
	if len(tags) == 0 {
		return false
	}

	hashes, err := available(r.Context())
	if err != nil {
		api.logger.Warn("Failed to list hashes for conditional request", zap.String("path", r.URL.Path), zap.Error(err))
		return false
	}
	if !matchesAny(tags, hashes) {
		return false
	}

	w.WriteHeader(http.StatusNotModified)
	return true
}
