package shared

import (
	"net/http"
	"strconv"

	"prospectcrm/internal/transport/http/api"
	"prospectcrm/internal/transport/http/middleware"
)

// Page is a limit/offset window over a listing.
type Page struct {
	Limit  int
	Offset int
}

// ParsePage reads limit/offset, or page/perPage (1-based) when limit is
// absent. Bad values fall back to the defaults and limit is capped at
// maxLimit.
func ParsePage(r *http.Request, defaultLimit, maxLimit int) Page {
	q := r.URL.Query()
	positive := func(key string, min int) (int, bool) {
		v, err := strconv.Atoi(q.Get(key))
		return v, err == nil && v >= min
	}

	p := Page{Limit: defaultLimit}
	if v, ok := positive("limit", 1); ok {
		p.Limit = v
	} else if v, ok := positive("perPage", 1); ok {
		p.Limit = v
	}
	if maxLimit > 0 && p.Limit > maxLimit {
		p.Limit = maxLimit
	}

	if v, ok := positive("offset", 0); ok {
		p.Offset = v
	} else if v, ok := positive("page", 1); ok {
		p.Offset = (v - 1) * p.Limit
	}
	return p
}

// WriteList answers a paged listing. The total goes in X-Total-Count and
// X-Has-More tells clients whether another page exists.
func WriteList[T any](w http.ResponseWriter, r *http.Request, items []T, total int, p Page) {
	if items == nil {
		items = []T{}
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	w.Header().Set("X-Has-More", strconv.FormatBool(p.Offset+len(items) < total))
	api.Success(w, items, middleware.GetRequestID(r.Context()))
}
