/*

Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0

*/
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strconv"

	"github.com/redhatinsights/spreadsheet-export-service/errors"
)

type paginationKey int

const (
	PaginateKey   paginationKey = iota
	defaultLimit  int           = 100
	maxLimit      int           = 1000
	defaultOffset int           = 0
)

// Paginate represents pagination parameters.
type Paginate struct {
	// Limit represents the number of items returned in the response.
	Limit int
	// Offset represents the starting index of the returned list of items.
	Offset int
}

// PaginatedResponse contains the paginated response data.
type PaginatedResponse struct {
	// Meta contains the response metadata.
	Meta Meta `json:"meta"`
	// Links contains the first, next, previous, and last links for the paginated data.
	Links Links `json:"links"`
	// Data is the paginated data
	Data interface{} `json:"data"`
}

// Meta represents the response metadata.
type Meta struct {
	// Count represents the number of total items the query generated.
	Count int `json:"count"`
}

// Links represents the first, next, previous, and last links of the paginated response.
type Links struct {
	// First is the link that represents the start of the paginated data (offset=0).
	First string `json:"first"`
	// Next represents the next page of paginated data.
	Next *string `json:"next"`
	// Previous represents the previous page of paginated data.
	Previous *string `json:"previous"`
	// Last represents the last page of paginated data.
	Last string `json:"last"`
}

// GetPaginatedResponse wraps one page of data. The page was already cut by
// the database; count is the total number of matching items.
func GetPaginatedResponse(url *url.URL, p Paginate, page interface{}, count int) (*PaginatedResponse, error) {
	if page == nil {
		return nil, fmt.Errorf("invalid data set: data cannot be nil")
	}
	if reflect.TypeOf(page).Kind() != reflect.Slice {
		return nil, fmt.Errorf("invalid data set: must be a slice")
	}
	if p.Limit < 0 || p.Offset < 0 {
		return nil, fmt.Errorf("invalid negative value for limit or offset")
	}

	return &PaginatedResponse{
		Meta:  Meta{Count: count},
		Links: GetLinks(url, p, count),
		Data:  page,
	}, nil
}

func pageLink(u *url.URL, limit, offset int) string {
	linkURL := *u
	q := linkURL.Query()
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	linkURL.RawQuery = q.Encode()
	return linkURL.String()
}

// GetLinks builds the navigation links for a page of a count item list.
func GetLinks(u *url.URL, p Paginate, count int) Links {
	result := Links{First: pageLink(u, p.Limit, 0)}

	last := 0
	if p.Limit > 0 && count > p.Limit {
		last = count - p.Limit
	}
	result.Last = pageLink(u, p.Limit, last)

	if p.Offset+p.Limit < count {
		next := pageLink(u, p.Limit, p.Offset+p.Limit)
		result.Next = &next
	}
	if p.Offset > 0 {
		prev := p.Offset - p.Limit
		if prev < 0 {
			prev = 0
		}
		previous := pageLink(u, p.Limit, prev)
		result.Previous = &previous
	}
	return result
}

func parseBound(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid %s: %d", name, v)
	}
	return v, nil
}

// PaginationCtx is a middleware that parses the pagination settings from the url query
// and injects them as a Paginate object in the request context.
func PaginationCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, err := parseBound(r, "limit", defaultLimit)
		if err != nil {
			errors.BadRequestError(w, err)
			return
		}
		if limit > maxLimit {
			limit = maxLimit
		}
		offset, err := parseBound(r, "offset", defaultOffset)
		if err != nil {
			errors.BadRequestError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), PaginateKey, Paginate{Limit: limit, Offset: offset})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetPagination is a helper function that returns the Paginate
// object stored in the request context.
func GetPagination(ctx context.Context) Paginate {
	return ctx.Value(PaginateKey).(Paginate)
}
