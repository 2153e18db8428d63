package users

import (
	"encoding/json"
	"errors"
	"net/http"

	"chat-server/core"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

type (
	CreateUserRequest struct {
		Username string `json:"username" validate:"required,min=3,max=32"`
		Password string `json:"password" validate:"required,min=6"`
	}

	SignInRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	UserResponse struct {
		ID          string             `json:"_id"`
		Username    string             `json:"username"`
		ActiveChats []core.Room        `json:"activeChats"`
		Friends     []core.Participant `json:"friends"`
	}

	// UserStore is the slice of the storage gateway this API needs.
	UserStore interface {
		core.UserStore
	}
)

var validate = validator.New()

// HandleCreate registers a new user account.
func HandleCreate(store UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, "Invalid username or password", http.StatusBadRequest)
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to hash password")
			http.Error(w, "Failed to create user", http.StatusInternalServerError)
			return
		}

		user, err := store.CreateUser(r.Context(), req.Username, string(hash))
		if err != nil {
			if errors.Is(err, core.ErrUsernameTaken) {
				http.Error(w, "Username already taken", http.StatusConflict)
				return
			}
			logrus.WithField("error", err).Error("Failed to create user")
			http.Error(w, "Failed to create user", http.StatusInternalServerError)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, UserResponse{
			ID:          user.ID,
			Username:    user.Username,
			ActiveChats: []core.Room{},
			Friends:     []core.Participant{},
		})
	}
}

// HandleSignIn verifies credentials and returns the user's data. No session
// token is issued here; session handling belongs to the auth layer in front.
func HandleSignIn(store UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SignInRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		user, err := store.FindUserByUsername(r.Context(), req.Username)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				http.Error(w, "Wrong username/password", http.StatusUnauthorized)
				return
			}
			logrus.WithField("error", err).Error("Failed to look up user")
			http.Error(w, "Failed to sign in", http.StatusInternalServerError)
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
			http.Error(w, "Wrong username/password", http.StatusUnauthorized)
			return
		}

		resp, err := buildUserResponse(r, store, user)
		if err != nil {
			http.Error(w, "Failed to sign in", http.StatusInternalServerError)
			return
		}
		render.JSON(w, r, resp)
	}
}

// HandleGet returns a user's data with the active-chat list populated.
func HandleGet(store UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userId")

		user, err := store.FindUserByID(r.Context(), userID)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				http.Error(w, "user not found", http.StatusNotFound)
				return
			}
			logrus.WithFields(logrus.Fields{
				"user_id": userID,
				"error":   err,
			}).Error("Failed to retrieve user")
			http.Error(w, "Failed to retrieve user", http.StatusInternalServerError)
			return
		}

		resp, err := buildUserResponse(r, store, user)
		if err != nil {
			http.Error(w, "Failed to retrieve user", http.StatusInternalServerError)
			return
		}
		render.JSON(w, r, resp)
	}
}

// HandleSearch finds users by username fragment, excluding the searcher and
// anyone already befriended.
func HandleSearch(store UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		userID := r.URL.Query().Get("userId")
		if query == "" {
			render.JSON(w, r, []core.Participant{})
			return
		}

		matches, err := store.SearchUsers(r.Context(), query, userID)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to search users")
			http.Error(w, "Failed to search users", http.StatusInternalServerError)
			return
		}

		results := make([]core.Participant, 0, len(matches))
		for _, user := range matches {
			results = append(results, core.Participant{ID: user.ID, Username: user.Username})
		}
		render.JSON(w, r, results)
	}
}

func buildUserResponse(r *http.Request, store UserStore, user *core.User) (*UserResponse, error) {
	resp := &UserResponse{
		ID:          user.ID,
		Username:    user.Username,
		ActiveChats: []core.Room{},
		Friends:     make([]core.Participant, 0, len(user.Friends)),
	}

	rooms, err := store.ActiveChats(r.Context(), user.ID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id": user.ID,
			"error":   err,
		}).Error("Failed to load active chats")
		return nil, err
	}
	resp.ActiveChats = rooms

	for _, friendID := range user.Friends {
		friend, err := store.FindUserByID(r.Context(), friendID)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			return nil, err
		}
		resp.Friends = append(resp.Friends, core.Participant{ID: friend.ID, Username: friend.Username})
	}
	return resp, nil
}
