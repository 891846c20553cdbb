package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/registry/internal/platform/apperr"
	"github.com/clinic/registry/internal/platform/metrics"
)

// Handler serves login, logout and the current-user endpoint.
type Handler struct {
	creds    CredentialStore
	sessions SessionStore
	tokens   *Tokens
	ttl      time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewHandler(creds CredentialStore, sessions SessionStore, tokens *Tokens, ttl time.Duration) *Handler {
	return &Handler{
		creds:    creds,
		sessions: sessions,
		tokens:   tokens,
		ttl:      ttl,
		logger:   zerolog.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) SetMetrics(m *metrics.Metrics) { h.metrics = m }

func (h *Handler) SetLogger(l zerolog.Logger) {
	h.logger = l.With().Str("component", "auth").Logger()
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/login", h.Login)
	g.POST("/logout", h.Logout)
	g.GET("/me", h.Me)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      User      `json:"user"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
			return err
		}
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Username = strings.TrimSpace(req.Username)

	ve := &apperr.ValidationError{}
	if req.Username == "" {
		ve.Add("username", "Username is required")
	}
	if req.Password == "" {
		ve.Add("password", "Password is required")
	}
	if err := ve.OrNil(); err != nil {
		return err
	}

	ctx := c.Request().Context()
	user, err := h.creds.Verify(ctx, req.Username, req.Password)
	if err != nil {
		h.metrics.Login(false)
		if errors.Is(err, ErrInvalidCredentials) {
			h.logger.Warn().Str("username", req.Username).Str("ip", c.RealIP()).Msg("login failed")
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid username or password")
		}
		return err
	}

	now := h.now()
	sess := &Session{
		ID:        uuid.NewString(),
		Username:  user.Username,
		Role:      user.Role,
		Device:    DeviceLabel(c.Request().UserAgent()),
		CreatedAt: now,
		ExpiresAt: now.Add(h.ttl),
	}
	if err := h.sessions.Create(ctx, sess); err != nil {
		return err
	}
	token, err := h.tokens.Issue(sess)
	if err != nil {
		return err
	}

	h.metrics.Login(true)
	h.logger.Info().Str("username", user.Username).Str("device", sess.Device).Msg("login")
	return c.JSON(http.StatusOK, loginResponse{Token: token, ExpiresAt: sess.ExpiresAt, User: user})
}

// Logout revokes the caller's session.
func (h *Handler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	sid := SessionIDFromContext(ctx)
	if sid == "" {
		return c.NoContent(http.StatusNoContent)
	}
	if err := h.sessions.Delete(ctx, sid); err != nil {
		return err
	}
	h.logger.Info().Str("username", UserIDFromContext(ctx)).Msg("logout")
	return c.NoContent(http.StatusNoContent)
}

type meResponse struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	Device   string   `json:"device,omitempty"`
}

func (h *Handler) Me(c echo.Context) error {
	ctx := c.Request().Context()
	username := UserIDFromContext(ctx)
	if username == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
	}
	resp := meResponse{Username: username, Roles: RolesFromContext(ctx)}
	if sid := SessionIDFromContext(ctx); sid != "" {
		sess, err := h.sessions.Get(ctx, sid)
		if err == nil {
			resp.Device = sess.Device
		}
	}
	return c.JSON(http.StatusOK, resp)
}
