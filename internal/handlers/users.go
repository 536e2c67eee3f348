package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/models"
)

// UserService defines the behaviour required from the service backing the users handlers.
type UserService interface {
	ListUsers(ctx context.Context) ([]models.User, error)
	GetUser(ctx context.Context, id string) (*models.UserDetail, error)
}

// Users returns every user, newest first.
func Users(svc UserService, errs ErrorWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := svc.ListUsers(r.Context())
		if err != nil {
			errs.Write(w, r, err)
			return
		}
		writeData(w, http.StatusOK, users)
	}
}

// User returns one user with its subscriptions.
func User(svc UserService, errs ErrorWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := svc.GetUser(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			errs.Write(w, r, err)
			return
		}
		writeData(w, http.StatusOK, user)
	}
}
