package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"

	chi "github.com/go-chi/chi/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redhatinsights/platform-go-middlewares/identity"

	"github.com/redhatinsights/spreadsheet-export-service/entities"
	"github.com/redhatinsights/spreadsheet-export-service/logger"
	"github.com/redhatinsights/spreadsheet-export-service/middleware"
	"github.com/redhatinsights/spreadsheet-export-service/models"
)

var _ = Describe("Handler", func() {
	DescribeTable("Test EnforceUserIdentity middleware",
		func(useContext bool, userType, accountNumber, orgID, username string, expectedStatus int) {
			req, err := http.NewRequest("GET", "/test", nil)
			Expect(err).To(BeNil())

			testIdentity := identity.XRHID{
				Identity: identity.Identity{
					Type:          userType,
					AccountNumber: accountNumber,
					OrgID:         orgID,
					User: identity.User{
						Username: username,
					},
				},
			}

			if useContext {
				req = req.WithContext(context.WithValue(req.Context(), identity.Key, testIdentity))
			}

			handlerCalled := false

			rr := httptest.NewRecorder()
			applicationHandler := http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
				// Check that the context has the UserIdentity field
				userIdentity := r.Context().Value(middleware.UserIdentityKey).(models.User)

				Expect(userIdentity.AccountID).To(Equal(accountNumber))
				Expect(userIdentity.OrganizationID).To(Equal(orgID))
				Expect(userIdentity.Username).To(Equal(username))
				Expect(middleware.GetOwner(r.Context())).To(Equal(entities.Owner{UserID: username, OrgID: orgID}))

				handlerCalled = true
			})

			router := chi.NewRouter()
			router.Route("/", func(sub chi.Router) {
				sub.Use(middleware.EnforceUserIdentity)
				sub.Get("/test", applicationHandler)
			})

			router.ServeHTTP(rr, req)

			Expect(rr.Code).To(Equal(expectedStatus))

			// Handler should not be called if an error is expected
			// The middleware would pass a bad context
			Expect(handlerCalled).To(Equal(expectedStatus == http.StatusOK))
		},
		Entry("Test with no context", false, "", "", "", "", http.StatusBadRequest),
		Entry("Test with associate context", true, "Associate", "11110000", "orgID", "username", http.StatusBadRequest),
		Entry("Test with missing username", true, "User", "11110000", "orgID", "", http.StatusBadRequest),
		Entry("Test with valid context", true, "User", "11110000", "orgID", "username", http.StatusOK),
	)

	DescribeTable("Test InjectDebugUserIdentity middleware",
		func(debug, sendHeader bool, expected string) {
			req, err := http.NewRequest("GET", "/test", nil)
			Expect(err).To(BeNil())
			if sendHeader {
				req.Header.Set("X-Rh-Identity", "provided")
			}

			var seen string
			handler := middleware.InjectDebugUserIdentity(debug, logger.Nop())(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
				seen = r.Header.Get("X-Rh-Identity")
			}))
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if expected == "debug" {
				Expect(seen).NotTo(BeEmpty())
				Expect(seen).NotTo(Equal("provided"))
			} else {
				Expect(seen).To(Equal(expected))
			}
		},
		Entry("debug off leaves the request alone", false, false, ""),
		Entry("debug on injects a header", true, false, "debug"),
		Entry("debug on keeps a provided header", true, true, "provided"),
	)
})
