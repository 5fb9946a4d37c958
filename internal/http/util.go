package httpx

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/target/assessment-jobs/internal/domain/model"
)

// parseIntQuery returns the integer value of a query param or a default.
// It is tolerant of missing/invalid values.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// ParseLimitOffset parses common pagination params and clamps to sane bounds.
// - defLimit: default limit when not specified
// - maxLimit: maximum allowed limit (values > maxLimit are clamped to maxLimit).
func ParseLimitOffset(r *http.Request, defLimit, maxLimit int) (int, int) {
	if maxLimit < 1 {
		maxLimit = 1
	}

	lim := parseIntQuery(r, "limit", defLimit)
	off := parseIntQuery(r, "offset", 0)
	if lim < 1 {
		lim = 1
	}
	if lim > maxLimit {
		lim = maxLimit
	}
	if off < 0 {
		off = 0
	}
	return lim, off
}

// optionalQuery returns a pointer to the trimmed query value, or nil when absent.
func optionalQuery(r *http.Request, key string) *string {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return nil
	}
	return &v
}

// jobListOptions builds list filters from ?status=&type=&user_id=&limit=&offset=.
func jobListOptions(r *http.Request) (model.JobListOptions, bool) {
	limit, offset := ParseLimitOffset(r, defaultListLimit, maxListLimit)
	opts := model.JobListOptions{
		UserID: optionalQuery(r, "user_id"),
		Limit:  limit,
		Offset: offset,
	}
	if s := optionalQuery(r, "status"); s != nil {
		st := model.JobStatus(strings.ToLower(*s))
		if !st.Valid() {
			return opts, false
		}
		opts.Status = &st
	}
	if t := optionalQuery(r, "type"); t != nil {
		var jt model.JobType
		if err := jt.UnmarshalText([]byte(*t)); err != nil {
			return opts, false
		}
		opts.Type = &jt
	}
	return opts, true
}
