// Package resources provides the JSON:API resources of the pagehost API.
package resources

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/manyminds/api2go"

	"github.com/artpar/pagehost/internal/core/apperr"
	"github.com/artpar/pagehost/internal/shell/store"
)

// Response implements api2go.Responder.
type Response struct {
	Code int
	Res  any
	Meta map[string]any
}

// Metadata returns additional metadata for the response.
func (r *Response) Metadata() map[string]any {
	return r.Meta
}

// Result returns the response data.
func (r *Response) Result() any {
	return r.Res
}

// StatusCode returns the HTTP status code.
func (r *Response) StatusCode() int {
	return r.Code
}

// =============================================================================
// Helpers
// =============================================================================

// fail converts a classified error into an api2go error. The JSON:API error
// code carries the error kind and, for pipeline failures, the stage is kept
// in meta.
func fail(err error) (api2go.Responder, error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	msg := err.Error()
	var appErr *apperr.Error
	if errors.As(err, &appErr) && kind != apperr.KindDownstream {
		msg = appErr.Message
	}

	httpErr := api2go.NewHTTPError(err, msg, status)
	apiErr := api2go.Error{
		Status: strconv.Itoa(status),
		Code:   kind.String(),
		Title:  http.StatusText(status),
		Detail: msg,
	}
	if stage := apperr.StageOf(err); stage != "" {
		apiErr.Meta = map[string]any{"stage": stage}
	}
	httpErr.Errors = []api2go.Error{apiErr}
	return &Response{Code: status}, httpErr
}

// listOptions reads page[size] and page[offset] (or page[number]).
func listOptions(req api2go.Request) store.ListOptions {
	opts := store.DefaultListOptions()
	if v := first(req, "page[size]"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	if v := first(req, "page[offset]"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Offset = n
		}
	}
	if v := first(req, "page[number]"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.Offset = (n - 1) * opts.Limit
		}
	}
	return opts.Normalize()
}

func first(req api2go.Request, key string) string {
	if vals := req.QueryParams[key]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func listMeta(total int, opts store.ListOptions) map[string]any {
	return map[string]any{
		"total":  total,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	}
}
