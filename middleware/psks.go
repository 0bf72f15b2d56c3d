/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package middleware

import (
	"net/http"
	"slices"

	"github.com/redhatinsights/spreadsheet-export-service/errors"
)

// EnforcePSK is a middleware that checks for a valid x-rh-exports-psk header.
func EnforcePSK(psks []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			psk := r.Header["X-Rh-Exports-Psk"]

			if len(psk) != 1 {
				errors.BadRequestError(w, "missing x-rh-exports-psk header")
				return
			}

			if psk[0] == "" || !slices.Contains(psks, psk[0]) {
				errors.JSONError(w, "invalid x-rh-exports-psk header", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
