package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"user-service/internal/repository/sqlite"
	"user-service/internal/service"
)

// =============================================================================
// Test Helpers
// =============================================================================

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

type stubUserService struct {
	service.UserService
	listErr error
}

func (s stubUserService) List(ctx context.Context) ([]service.UserView, error) {
	return nil, s.listErr
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newRouter(t *testing.T, users service.UserService, db Pinger) *gin.Engine {
	t.Helper()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(users, db, quietLogger()).RegisterRoutes(router, []string{"*"})
	return router
}

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := sqlite.NewUserRepository(db)
	require.NoError(t, repo.Init(context.Background()))

	svc := service.NewUserService(repo, service.Config{HashCost: bcrypt.MinCost})
	return newRouter(t, svc, repo)
}

func doRequest(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		payload, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewBuffer(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, w)["error"]
}

func createUser(t *testing.T, router *gin.Engine, body map[string]any) int64 {
	t.Helper()

	w := doRequest(t, router, http.MethodPost, "/users", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[CreateUserResponse](t, w).Data.ID
}

// =============================================================================
// Create
// =============================================================================

func TestCreateUser_Success(t *testing.T) {
	router := setupRouter(t)

	w := doRequest(t, router, http.MethodPost, "/users", map[string]any{"username": "alice", "password": "password1"})
	require.Equal(t, http.StatusCreated, w.Code)

	resp := decode[CreateUserResponse](t, w)
	assert.Equal(t, "User created successfully", resp.Message)
	assert.Equal(t, "alice", resp.Data.Username)
	assert.Positive(t, resp.Data.ID)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestCreateUser_Failures(t *testing.T) {
	router := setupRouter(t)
	createUser(t, router, map[string]any{"username": "taken", "password": "password1"})

	tests := []struct {
		name    string
		body    any
		message string
	}{
		{"missing username", map[string]any{"password": "password1"}, "Username and password are required"},
		{"empty password", map[string]any{"username": "bob", "password": ""}, "Username and password are required"},
		{"weak password", map[string]any{"username": "bob", "password": "1234567"}, "Password must be at least 8 characters long"},
		{"username taken", map[string]any{"username": "taken", "password": "password1"}, "Username already exists"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, http.MethodPost, "/users", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.message, errorMessage(t, w))
		})
	}
}

func TestCreateUser_MalformedBody(t *testing.T) {
	router := setupRouter(t)

	w := doRequest(t, router, http.MethodPost, "/users", `{"username":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, errorMessage(t, w))
}

// =============================================================================
// List / Get
// =============================================================================

func TestListUsers(t *testing.T) {
	router := setupRouter(t)

	w := doRequest(t, router, http.MethodGet, "/users", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	aliceID := createUser(t, router, map[string]any{"username": "alice", "password": "password1"})
	bobID := createUser(t, router, map[string]any{"username": "bob", "password": "password1", "active": false})

	w = doRequest(t, router, http.MethodGet, "/users", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []UserResponse{
		{ID: aliceID, Username: "alice", Active: true},
		{ID: bobID, Username: "bob", Active: false},
	}, decode[[]UserResponse](t, w))
	assert.NotContains(t, w.Body.String(), "password")
}

func TestListUsers_StoreFailure(t *testing.T) {
	router := newRouter(t, stubUserService{listErr: errors.New("db gone")}, stubPinger{})

	w := doRequest(t, router, http.MethodGet, "/users", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", errorMessage(t, w))
}

func TestGetUser(t *testing.T) {
	router := setupRouter(t)
	id := createUser(t, router, map[string]any{"username": "alice", "password": "password1"})

	w := doRequest(t, router, http.MethodGet, "/users/"+itoa(id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, UserResponse{ID: id, Username: "alice", Active: true}, decode[UserResponse](t, w))
}

func TestGetUser_NotFound(t *testing.T) {
	router := setupRouter(t)

	w := doRequest(t, router, http.MethodGet, "/users/404", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "User with ID 404 does not exist", errorMessage(t, w))
}

func TestGetUser_InvalidID(t *testing.T) {
	router := setupRouter(t)

	for _, raw := range []string{"abc", "0", "-3"} {
		w := doRequest(t, router, http.MethodGet, "/users/"+raw, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, raw)
		assert.Equal(t, "User ID is required", errorMessage(t, w))
	}
}

// =============================================================================
// Update
// =============================================================================

func TestUpdateUser(t *testing.T) {
	router := setupRouter(t)
	id := createUser(t, router, map[string]any{"username": "alice", "password": "password1"})

	w := doRequest(t, router, http.MethodPost, "/users/update/"+itoa(id), map[string]any{
		"username": "alicia", "password": "password2", "active": false,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "User updated successfully", decode[map[string]string](t, w)["message"])

	w = doRequest(t, router, http.MethodGet, "/users/"+itoa(id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, UserResponse{ID: id, Username: "alicia", Active: false}, decode[UserResponse](t, w))
}

func TestUpdateUser_Failures(t *testing.T) {
	router := setupRouter(t)
	createUser(t, router, map[string]any{"username": "alice", "password": "password1"})
	bobID := createUser(t, router, map[string]any{"username": "bob", "password": "password1"})

	tests := []struct {
		name    string
		path    string
		body    any
		status  int
		message string
	}{
		{"unknown id before validation", "/users/update/999", map[string]any{}, http.StatusNotFound, "User with ID 999 does not exist"},
		{"missing fields", "/users/update/" + itoa(bobID), map[string]any{"username": "bob"}, http.StatusBadRequest, "Username and password are required"},
		{"weak password", "/users/update/" + itoa(bobID), map[string]any{"username": "bob", "password": "short"}, http.StatusBadRequest, "Password must be at least 8 characters long"},
		{"username taken", "/users/update/" + itoa(bobID), map[string]any{"username": "alice", "password": "password1"}, http.StatusBadRequest, "Username alice is already taken by another user"},
		{"invalid id", "/users/update/x", map[string]any{}, http.StatusBadRequest, "User ID is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.message, errorMessage(t, w))
		})
	}

	w := doRequest(t, router, http.MethodGet, "/users/"+itoa(bobID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bob", decode[UserResponse](t, w).Username)
}

// =============================================================================
// Delete
// =============================================================================

func TestDeleteUser(t *testing.T) {
	router := setupRouter(t)
	id := createUser(t, router, map[string]any{"username": "alice", "password": "password1"})

	w := doRequest(t, router, http.MethodDelete, "/users/"+itoa(id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "User deleted successfully", decode[map[string]string](t, w)["message"])

	w = doRequest(t, router, http.MethodGet, "/users/"+itoa(id), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, router, http.MethodDelete, "/users/"+itoa(id), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =============================================================================
// Ambient routes
// =============================================================================

func TestHealth(t *testing.T) {
	router := newRouter(t, stubUserService{}, stubPinger{})
	w := doRequest(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	router = newRouter(t, stubUserService{}, stubPinger{err: errors.New("closed")})
	w = doRequest(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequestID(t *testing.T) {
	router := newRouter(t, stubUserService{}, stubPinger{})

	w := doRequest(t, router, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(&service.Error{Kind: service.ErrNotFound}))
	assert.Equal(t, http.StatusBadRequest, statusFor(&service.Error{Kind: service.ErrMissingField}))
	assert.Equal(t, http.StatusBadRequest, statusFor(&service.Error{Kind: service.ErrWeakPassword}))
	assert.Equal(t, http.StatusBadRequest, statusFor(&service.Error{Kind: service.ErrUsernameTaken}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(&service.Error{Kind: service.ErrUpdateFailed}))
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
