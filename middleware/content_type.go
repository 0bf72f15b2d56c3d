/*

Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0

*/
package middleware

import "net/http"

// ContentType sets a default Content-Type. Handlers that stream files
// replace it.
func ContentType(value string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", value)
			next.ServeHTTP(w, r)
		})
	}
}

func JSONContentType(next http.Handler) http.Handler {
	return ContentType("application/json")(next)
}
