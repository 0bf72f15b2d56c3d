/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redhatinsights/platform-go-middlewares/identity"
	"go.uber.org/zap"

	"github.com/redhatinsights/spreadsheet-export-service/entities"
	"github.com/redhatinsights/spreadsheet-export-service/errors"
	"github.com/redhatinsights/spreadsheet-export-service/models"
)

type userIdentityKey int

const (
	UserIdentityKey userIdentityKey = iota
	debugHeader     string          = "eyJpZGVudGl0eSI6eyJhY2NvdW50X251bWJlciI6IjEwMDAxIiwib3JnX2lkIjoiMTAwMDAwMDEiLCJpbnRlcm5hbCI6eyJvcmdfaWQiOiIxMDAwMDAwMSJ9LCJ0eXBlIjoiVXNlciIsInVzZXIiOnsidXNlcm5hbWUiOiJ1c2VyX2RldiJ9fX0K"
)

// InjectDebugUserIdentity sets a valid x-rh-identity header on requests that
// lack one when debug is true. ** Only used during local development.
func InjectDebugUserIdentity(debug bool, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if debug {
				rawHeaders := r.Header["X-Rh-Identity"]

				// request does not have the x-rh-id header
				if len(rawHeaders) != 1 {
					r.Header["X-Rh-Identity"] = []string{debugHeader}
					log.Debug("injecting debug header")
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// EnforceUserIdentity is a middleware that checks for a valid x-rh-identity
// header and adds the id to the request context.
func EnforceUserIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identity.Get(r.Context())

		if id.Identity.Type != "User" {
			errors.BadRequestError(w, fmt.Sprintf("'%s' is not a valid user type", id.Identity.Type))
			return
		}
		if id.Identity.User.Username == "" || id.Identity.OrgID == "" {
			errors.BadRequestError(w, "identity is missing a username or org_id")
			return
		}

		user := models.User{
			AccountID:      id.Identity.AccountNumber,
			OrganizationID: id.Identity.OrgID,
			Username:       id.Identity.User.Username,
		}

		ctx := context.WithValue(r.Context(), UserIdentityKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserIdentity is a helper function that return the x-rh-identity
// stored in the request context.
func GetUserIdentity(ctx context.Context) models.User {
	return ctx.Value(UserIdentityKey).(models.User)
}

// GetOwner is the export owner of the user in ctx.
func GetOwner(ctx context.Context) entities.Owner {
	user := GetUserIdentity(ctx)
	return entities.Owner{UserID: user.Username, OrgID: user.OrganizationID}
}
