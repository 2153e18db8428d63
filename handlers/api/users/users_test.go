package users

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chat-server/core"
	"chat-server/stores/memory"

	"github.com/go-chi/chi/v5"
)

func setupRouter(store core.Store) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/api/users", HandleCreate(store))
	r.Post("/api/users/signin", HandleSignIn(store))
	r.Get("/api/users/search", HandleSearch(store))
	r.Get("/api/users/{userId}", HandleGet(store))
	return r
}

func doRequest(t *testing.T, router *chi.Mux, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func createUser(t *testing.T, router *chi.Mux, username string) UserResponse {
	t.Helper()
	rec := doRequest(t, router, http.MethodPost, "/api/users",
		`{"username":"`+username+`","password":"hunter22"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create %q returned status %d: %s", username, rec.Code, rec.Body.String())
	}
	var resp UserResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}
	return resp
}

func TestHandleCreate(t *testing.T) {
	router := setupRouter(memory.NewChatStore())

	resp := createUser(t, router, "alice")
	if resp.ID == "" {
		t.Error("created user has empty id")
	}
	if resp.Username != "alice" {
		t.Errorf("created username = %q, want %q", resp.Username, "alice")
	}
	if resp.ActiveChats == nil || resp.Friends == nil {
		t.Error("fresh user response should carry empty lists, not null")
	}
}

func TestHandleCreate_Invalid(t *testing.T) {
	router := setupRouter(memory.NewChatStore())

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"username":`},
		{"short username", `{"username":"ab","password":"hunter22"}`},
		{"short password", `{"username":"alice","password":"abc"}`},
		{"missing password", `{"username":"alice"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodPost, "/api/users", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestHandleCreate_DuplicateUsername(t *testing.T) {
	router := setupRouter(memory.NewChatStore())
	createUser(t, router, "alice")

	rec := doRequest(t, router, http.MethodPost, "/api/users",
		`{"username":"alice","password":"different1"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate username status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestHandleSignIn(t *testing.T) {
	router := setupRouter(memory.NewChatStore())
	created := createUser(t, router, "alice")

	rec := doRequest(t, router, http.MethodPost, "/api/users/signin",
		`{"username":"alice","password":"hunter22"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("sign in status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp UserResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode sign in response: %v", err)
	}
	if resp.ID != created.ID {
		t.Errorf("signed in as %q, want %q", resp.ID, created.ID)
	}
}

func TestHandleSignIn_Rejections(t *testing.T) {
	router := setupRouter(memory.NewChatStore())
	createUser(t, router, "alice")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"wrong password", `{"username":"alice","password":"wrong-pass"}`, http.StatusUnauthorized},
		{"unknown user", `{"username":"nobody","password":"hunter22"}`, http.StatusUnauthorized},
		{"missing fields", `{"username":"alice"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodPost, "/api/users/signin", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestHandleGet(t *testing.T) {
	store := memory.NewChatStore()
	router := setupRouter(store)
	alice := createUser(t, router, "alice")
	bob := createUser(t, router, "bob")

	// Give alice a friend and an open conversation so the response carries
	// populated lists.
	ctx := context.Background()
	if _, _, err := store.AddFriend(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("AddFriend() failed: %v", err)
	}
	room, err := store.CreateRoom(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("CreateRoom() failed: %v", err)
	}
	if _, err := store.AddActiveChat(ctx, alice.ID, room.ID); err != nil {
		t.Fatalf("AddActiveChat() failed: %v", err)
	}

	rec := doRequest(t, router, http.MethodGet, "/api/users/"+alice.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get user status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp UserResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode get response: %v", err)
	}
	if len(resp.ActiveChats) != 1 || resp.ActiveChats[0].ID != room.ID {
		t.Errorf("activeChats = %+v, want the one room", resp.ActiveChats)
	}
	if len(resp.Friends) != 1 || resp.Friends[0].ID != bob.ID {
		t.Errorf("friends = %+v, want [bob]", resp.Friends)
	}
}

func TestHandleGet_NotFound(t *testing.T) {
	router := setupRouter(memory.NewChatStore())

	rec := doRequest(t, router, http.MethodGet, "/api/users/does-not-exist", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown user status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleSearch(t *testing.T) {
	store := memory.NewChatStore()
	router := setupRouter(store)
	alice := createUser(t, router, "alice")
	createUser(t, router, "alison")
	createUser(t, router, "bob")

	rec := doRequest(t, router, http.MethodGet, "/api/users/search?q=ali&userId="+alice.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d: %s", rec.Code, rec.Body.String())
	}
	var results []core.Participant
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("failed to decode search response: %v", err)
	}
	if len(results) != 1 || results[0].Username != "alison" {
		t.Errorf("search results = %+v, want [alison]", results)
	}
}

func TestHandleSearch_EmptyQuery(t *testing.T) {
	router := setupRouter(memory.NewChatStore())
	createUser(t, router, "alice")

	rec := doRequest(t, router, http.MethodGet, "/api/users/search", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("empty search status = %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("empty search body = %q, want empty array", body)
	}
}
