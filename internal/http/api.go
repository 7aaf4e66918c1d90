package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"user-service/internal/service"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler wires HTTP routes to the user service.
type Handler struct {
	users  service.UserService
	db     Pinger
	logger logrus.FieldLogger
}

func NewHandler(users service.UserService, db Pinger, logger logrus.FieldLogger) *Handler {
	return &Handler{
		users:  users,
		db:     db,
		logger: logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine, allowedOrigins []string) {
	router.Use(requestIDMiddleware(), accessLogMiddleware(h.logger), corsMiddleware(allowedOrigins))

	router.GET("/health", h.health)

	users := router.Group("/users")
	{
		users.POST("", h.createUser)
		users.GET("", h.listUsers)
		users.GET("/:id", h.getUser)
		users.POST("/update/:id", h.updateUser)
		users.DELETE("/:id", h.deleteUser)
	}
}

type userRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
	Active   *bool   `json:"active"`
}

func (r userRequest) input() service.UserInput {
	return service.UserInput{
		Username: r.Username,
		Password: r.Password,
		Active:   r.Active,
	}
}

type UserResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Active   bool   `json:"active"`
}

type CreatedUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type CreateUserResponse struct {
	Message string      `json:"message"`
	Data    CreatedUser `json:"data"`
}

func (h *Handler) createUser(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	user, err := h.users.Create(c.Request.Context(), req.input())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, CreateUserResponse{
		Message: "User created successfully",
		Data:    CreatedUser{ID: user.ID, Username: user.Username},
	})
}

func (h *Handler) listUsers(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := make([]UserResponse, len(users))
	for i := range users {
		resp[i] = userToResponse(users[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getUser(c *gin.Context) {
	id, ok := parseUserID(c)
	if !ok {
		return
	}

	user, err := h.users.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, userToResponse(*user))
}

func (h *Handler) updateUser(c *gin.Context) {
	id, ok := parseUserID(c)
	if !ok {
		return
	}

	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	if err := h.users.Update(c.Request.Context(), id, req.input()); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User updated successfully"})
}

func (h *Handler) deleteUser(c *gin.Context) {
	id, ok := parseUserID(c)
	if !ok {
		return
	}

	if err := h.users.Delete(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User deleted successfully"})
}

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.WithError(err).Error("database ping failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// parseUserID writes a 400 and returns false when the path id is not a
// positive integer. Zero, negative and non-numeric ids all count as an absent
// id and get 400 "User ID is required"; none of them fall through to a 404
// route miss.
func parseUserID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User ID is required"})
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(c *gin.Context, err error) {
	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		h.logger.WithError(err).WithField("request_id", c.GetString(requestIDKey)).Error("unhandled service error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(statusFor(svcErr), gin.H{"error": svcErr.Message})
}

func statusFor(err *service.Error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrMissingField),
		errors.Is(err, service.ErrWeakPassword),
		errors.Is(err, service.ErrUsernameTaken):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func userToResponse(user service.UserView) UserResponse {
	return UserResponse{
		ID:       user.ID,
		Username: user.Username,
		Active:   user.Active,
	}
}
