// Package portal serves the marketplace pages. Every visitor owns a session
// store, found through the skl_sid cookie, and every navigation passes the
// route guard before a page handler runs.
package portal

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"skilllink/internal/apperr"
	"skilllink/internal/authclient"
	"skilllink/internal/guard"
	"skilllink/internal/session"
)

// SessionCookie carries the visitor session id.
const SessionCookie = "skl_sid"

const storeKey = "portal.store"

// Sessions hands out the store of a visitor. session.Registry implements it.
type Sessions interface {
	Get(ctx context.Context, sid string) *session.Store
}

type Options struct {
	SessionTTL   time.Duration
	InitWait     time.Duration
	SubmitWait   time.Duration
	CookieSecure bool
}

type Handler struct {
	sessions Sessions
	guard    *guard.Guard
	opts     Options
	logger   *logrus.Logger
}

func NewHandler(sessions Sessions, g *guard.Guard, opts Options, logger *logrus.Logger) *Handler {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{sessions: sessions, guard: g, opts: opts, logger: logger}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(pages)

	pagesGroup := router.Group("/")
	pagesGroup.Use(h.visitor(), h.guard.Middleware(func(c *gin.Context) guard.Session {
		return storeFrom(c)
	}, guard.MiddlewareConfig{
		InitWait:   h.opts.InitWait,
		SubmitWait: h.opts.SubmitWait,
		Logger:     h.logger,
	}))

	pagesGroup.GET("/", h.home)
	pagesGroup.GET(h.guard.LoginPath(), h.loginForm)
	pagesGroup.POST(h.guard.LoginPath(), h.login)
	pagesGroup.GET(h.guard.SignupPath(), h.signupForm)
	pagesGroup.POST(h.guard.SignupPath(), h.signup)
	pagesGroup.POST("/logout", h.logout)
	pagesGroup.GET("/forgot-password", h.forgotForm)
	pagesGroup.POST("/forgot-password", h.forgotPassword)
	pagesGroup.GET("/reset-password", h.resetForm)
	pagesGroup.POST("/reset-password", h.resetPassword)
	pagesGroup.GET("/dashboard", h.dashboard)
	pagesGroup.GET("/profile", h.profile)
	pagesGroup.GET("/client", h.area("Client workspace"))
	pagesGroup.GET("/freelancer", h.area("Freelancer workspace"))
	pagesGroup.GET("/admin", h.area("Administration"))
}

// visitor makes sure the request carries a session id and attaches the
// visitor's store to the context.
func (h *Handler) visitor() gin.HandlerFunc {
	return func(c *gin.Context) {
		sid, err := c.Cookie(SessionCookie)
		if err != nil {
			sid = ""
		}
		if _, perr := uuid.Parse(sid); perr != nil {
			sid = uuid.NewString()
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(SessionCookie, sid, int(h.opts.SessionTTL/time.Second), "/", "", h.opts.CookieSecure, true)
		c.Set(storeKey, h.sessions.Get(c.Request.Context(), sid))
		c.Next()
	}
}

func storeFrom(c *gin.Context) *session.Store {
	return c.MustGet(storeKey).(*session.Store)
}

func (h *Handler) home(c *gin.Context) {
	h.render(c, http.StatusOK, "home.html", page{Title: "Home"})
}

func (h *Handler) loginForm(c *gin.Context) {
	if snap := storeFrom(c).Snapshot(); snap.Authenticated {
		c.Redirect(http.StatusFound, h.guard.Home(snap.Role()))
		return
	}
	p := page{Title: "Log in", From: c.Query("from")}
	if c.Query("reset") != "" {
		p.Notice = "Password updated, please log in"
	}
	h.render(c, http.StatusOK, "login.html", p)
}

func (h *Handler) login(c *gin.Context) {
	email := strings.TrimSpace(c.PostForm("email"))
	from := c.PostForm("from")

	res := storeFrom(c).Login(c.Request.Context(), authclient.Credentials{
		Email:    email,
		Password: c.PostForm("password"),
	})
	if !res.OK {
		h.render(c, statusFor(res), "login.html", page{
			Title:  "Log in",
			Banner: res.Reason,
			From:   from,
			Form:   map[string]string{"email": email},
		})
		return
	}
	c.Redirect(http.StatusSeeOther, h.afterAuth(from, res))
}

func (h *Handler) signupForm(c *gin.Context) {
	if snap := storeFrom(c).Snapshot(); snap.Authenticated {
		c.Redirect(http.StatusFound, h.guard.Home(snap.Role()))
		return
	}
	h.render(c, http.StatusOK, "signup.html", page{
		Title: "Sign up",
		From:  c.Query("from"),
		Form:  map[string]string{"role": c.DefaultQuery("role", "client")},
	})
}

func (h *Handler) signup(c *gin.Context) {
	in := authclient.SignupInput{
		Name:     strings.TrimSpace(c.PostForm("name")),
		Email:    strings.TrimSpace(c.PostForm("email")),
		Password: c.PostForm("password"),
		Role:     c.PostForm("role"),
	}
	from := c.PostForm("from")

	res := storeFrom(c).Signup(c.Request.Context(), in)
	if !res.OK {
		h.render(c, statusFor(res), "signup.html", page{
			Title:  "Sign up",
			Banner: res.Reason,
			From:   from,
			Form:   map[string]string{"name": in.Name, "email": in.Email, "role": in.Role},
		})
		return
	}
	c.Redirect(http.StatusSeeOther, h.afterAuth(from, res))
}

func (h *Handler) logout(c *gin.Context) {
	if res := storeFrom(c).Logout(c.Request.Context()); !res.OK {
		h.logger.WithField("kind", res.Kind).Warn("logout finished locally only")
	}
	c.Redirect(http.StatusSeeOther, h.guard.LoginPath())
}

func (h *Handler) forgotForm(c *gin.Context) {
	h.render(c, http.StatusOK, "forgot.html", page{Title: "Forgot password"})
}

func (h *Handler) forgotPassword(c *gin.Context) {
	email := strings.TrimSpace(c.PostForm("email"))
	p := page{Title: "Forgot password", Form: map[string]string{"email": email}}

	res := storeFrom(c).ForgotPassword(c.Request.Context(), email)
	if !res.OK {
		p.Banner = res.Reason
		h.render(c, statusFor(res), "forgot.html", p)
		return
	}
	p.Notice = "If the account exists, a reset link has been sent"
	h.render(c, http.StatusOK, "forgot.html", p)
}

func (h *Handler) resetForm(c *gin.Context) {
	h.render(c, http.StatusOK, "reset.html", page{Title: "Reset password", Token: c.Query("token")})
}

func (h *Handler) resetPassword(c *gin.Context) {
	token := c.PostForm("token")
	password := c.PostForm("password")
	p := page{Title: "Reset password", Token: token}

	if password != c.PostForm("confirm") {
		p.Banner = "Passwords do not match"
		h.render(c, http.StatusUnprocessableEntity, "reset.html", p)
		return
	}
	res := storeFrom(c).ResetPassword(c.Request.Context(), token, password)
	if !res.OK {
		p.Banner = res.Reason
		h.render(c, statusFor(res), "reset.html", p)
		return
	}
	c.Redirect(http.StatusSeeOther, h.guard.LoginPath()+"?reset=1")
}

func (h *Handler) dashboard(c *gin.Context) {
	c.Redirect(http.StatusFound, h.guard.Home(storeFrom(c).Snapshot().Role()))
}

func (h *Handler) profile(c *gin.Context) {
	h.render(c, http.StatusOK, "profile.html", page{Title: "Profile"})
}

func (h *Handler) area(title string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.render(c, http.StatusOK, "area.html", page{Title: title})
	}
}

// afterAuth picks where a freshly signed in visitor lands: the page that
// sent it to login, or its role home.
func (h *Handler) afterAuth(from string, res session.Result) string {
	if target, ok := h.safeReturn(from); ok {
		return target
	}
	if res.User == nil {
		return "/"
	}
	return h.guard.Home(res.User.Role)
}

// safeReturn accepts only local paths, never the auth pages themselves.
func (h *Handler) safeReturn(from string) (string, bool) {
	if from == "" || !strings.HasPrefix(from, "/") || strings.HasPrefix(from, "//") || strings.HasPrefix(from, `/\`) {
		return "", false
	}
	u, err := url.Parse(from)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "", false
	}
	if u.Path == h.guard.LoginPath() || u.Path == h.guard.SignupPath() {
		return "", false
	}
	return u.RequestURI(), true
}

func (h *Handler) render(c *gin.Context, status int, name string, p page) {
	if p.User == nil {
		p.User = storeFrom(c).Snapshot().User
	}
	if p.Form == nil {
		p.Form = map[string]string{}
	}
	c.HTML(status, name, p)
}

func statusFor(res session.Result) int {
	switch {
	case res.Discarded:
		return http.StatusConflict
	case res.Kind == apperr.KindValidation:
		return http.StatusUnprocessableEntity
	case res.Kind.Rejection():
		return http.StatusUnauthorized
	case res.Kind == apperr.KindNetwork:
		return http.StatusBadGateway
	}
	return http.StatusBadRequest
}
