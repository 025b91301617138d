package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 1000
)

// ErrInvalidParams is returned when a count or offset is not a
// non-negative integer.
var ErrInvalidParams = errors.New("invalid paging parameters")

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// Limits bounds the page size accepted from a caller.
type Limits struct {
	Default int
	Max     int
}

// DefaultLimits returns the package default bounds.
func DefaultLimits() Limits {
	return Limits{Default: DefaultLimit, Max: MaxLimit}
}

// FromContext extracts pagination parameters from the echo context.
// FHIR names (_count, _offset) win over the plain ones (count, limit,
// offset). Missing values take the defaults; a limit above Max is capped.
// Negative or non-numeric values are rejected rather than clamped so the
// caller can report them.
func FromContext(c echo.Context, l Limits) (Params, error) {
	return FromLookup(c.QueryParam, l)
}

// FromLookup applies the same rules as FromContext to any name lookup, such
// as the values of a POSTed Parameters resource.
func FromLookup(get func(name string) string, l Limits) (Params, error) {
	if l.Default <= 0 {
		l.Default = DefaultLimit
	}
	if l.Max <= 0 {
		l.Max = MaxLimit
	}

	limit, ok, err := firstInt(get, "_count", "count", "limit")
	if err != nil {
		return Params{}, err
	}
	if !ok {
		limit = l.Default
	}
	if limit > l.Max {
		limit = l.Max
	}

	offset, _, err := firstInt(get, "_offset", "offset")
	if err != nil {
		return Params{}, err
	}

	return Params{Limit: limit, Offset: offset}, nil
}

func firstInt(get func(string) string, names ...string) (int, bool, error) {
	for _, name := range names {
		raw := get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, false, fmt.Errorf("%s=%q: %w", name, raw, ErrInvalidParams)
		}
		return v, true, nil
	}
	return 0, false, nil
}

// Response wraps a paginated API response.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}

func NewResponse(data interface{}, total, limit, offset int) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}
}

// Slice returns the [offset, offset+limit) window of items, clamped to the
// slice bounds. Negative arguments yield an empty window.
func Slice[T any](items []T, offset, limit int) []T {
	if offset < 0 || limit <= 0 || offset >= len(items) {
		return items[:0:0]
	}
	end := offset + limit
	if end > len(items) || end < offset {
		end = len(items)
	}
	return items[offset:end]
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

// NextOffset returns the offset for the next page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// Cursor returns the next offset, or nil on the last page.
func (p Params) Cursor(total int) *int {
	if p.Limit <= 0 || !p.HasNext(total) {
		return nil
	}
	next := p.NextOffset()
	return &next
}

// PreviousOffset returns the offset for the previous page.
// Returns 0 if the result would be negative.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}

// FHIRLinks generates FHIR Bundle paging links for a search result.
// basePath is the search endpoint and query the request's parameters; the
// paging names in query are replaced so each link carries only _offset and
// _count.
func (p Params) FHIRLinks(basePath string, query url.Values, total int) []FHIRLink {
	link := func(rel string, offset int) FHIRLink {
		q := make(url.Values, len(query)+2)
		for k, v := range query {
			q[k] = v
		}
		for _, name := range []string{"count", "limit", "offset"} {
			q.Del(name)
		}
		q.Set("_offset", strconv.Itoa(offset))
		q.Set("_count", strconv.Itoa(p.Limit))
		return FHIRLink{Relation: rel, URL: basePath + "?" + q.Encode()}
	}

	links := []FHIRLink{link("self", p.Offset)}
	if p.HasNext(total) {
		links = append(links, link("next", p.NextOffset()))
	}
	if p.HasPrevious() {
		links = append(links, link("previous", p.PreviousOffset()))
	}
	return links
}

// FHIRLink represents a single FHIR Bundle link entry.
type FHIRLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}
