/*

Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0

*/
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/redhatinsights/spreadsheet-export-service/errors"
	"github.com/redhatinsights/spreadsheet-export-service/models"
)

type internalKey int

const urlParamsKey internalKey = iota

var entityName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// IsValidUUID is a helper function that checks if the given string is a valid uuid.
func IsValidUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// URLParamsCtx is a middleware that pulls `exportUUID` and `entity` from the
// url and puts them into a `URLParams` object in the request context. Either
// may be absent from the route.
func URLParamsCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params := &models.URLParams{}

		if raw := chi.URLParam(r, "exportUUID"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				errors.BadRequestError(w, fmt.Sprintf("'%s' is not a valid export UUID", raw))
				return
			}
			params.ExportUUID = id
		}

		if entity := chi.URLParam(r, "entity"); entity != "" {
			if !entityName.MatchString(entity) {
				errors.BadRequestError(w, fmt.Sprintf("'%s' is not a valid entity type", entity))
				return
			}
			params.Entity = entity
		}

		ctx := context.WithValue(r.Context(), urlParamsKey, params)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetURLParams fetches the urlParams from the context.
func GetURLParams(ctx context.Context) *models.URLParams {
	return ctx.Value(urlParamsKey).(*models.URLParams)
}
