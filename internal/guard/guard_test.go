package guard

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skilllink/internal/config"
	"skilllink/internal/domain"
	"skilllink/internal/session"
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	table, err := TableFromConfig(config.DefaultRoutes())
	require.NoError(t, err)
	return New(table, DefaultHomes(), "/login", "/signup")
}

func TestEvaluate(t *testing.T) {
	g := newTestGuard(t)
	clientOnly := Route{Path: "/client", RequireAuth: true, AllowedRoles: []domain.Role{domain.RoleClient}}
	authOnly := Route{Path: "/dashboard", RequireAuth: true}

	tests := []struct {
		name   string
		route  Route
		path   string
		viewer Viewer
		want   State
		target string
		from   string
	}{
		{
			name:   "initializing always loads",
			route:  authOnly,
			path:   "/dashboard",
			viewer: Viewer{Initializing: true},
			want:   Loading,
		},
		{
			name:   "anonymous on protected route goes to login",
			route:  authOnly,
			path:   "/dashboard",
			viewer: Viewer{},
			want:   RedirectToLogin,
			target: "/login",
			from:   "/dashboard",
		},
		{
			name:   "login page itself is never redirected",
			route:  Route{Path: "/login", RequireAuth: true},
			path:   "/login",
			viewer: Viewer{},
			want:   Authorized,
		},
		{
			name:   "signup page itself is never redirected",
			route:  Route{Path: "/signup", RequireAuth: true},
			path:   "/signup",
			viewer: Viewer{},
			want:   Authorized,
		},
		{
			name:   "allowed role is authorized",
			route:  clientOnly,
			path:   "/client",
			viewer: Viewer{Authenticated: true, Role: domain.RoleClient},
			want:   Authorized,
		},
		{
			name:   "other role goes to its home",
			route:  clientOnly,
			path:   "/other",
			viewer: Viewer{Authenticated: true, Role: domain.RoleFreelancer},
			want:   RedirectToRoleHome,
			target: "/freelancer",
		},
		{
			name:   "admin without a configured home goes to site root",
			route:  clientOnly,
			path:   "/client",
			viewer: Viewer{Authenticated: true, Role: domain.RoleAdmin},
			want:   RedirectToRoleHome,
			target: "/",
		},
		{
			name:   "roleless user goes to site root",
			route:  clientOnly,
			path:   "/client",
			viewer: Viewer{Authenticated: true},
			want:   RedirectToRoleHome,
			target: "/",
		},
		{
			name:   "home equal to current path is unauthorized",
			route:  clientOnly,
			path:   "/freelancer",
			viewer: Viewer{Authenticated: true, Role: domain.RoleFreelancer},
			want:   Unauthorized,
		},
		{
			name:   "role list ignored for anonymous visitors on public routes",
			route:  Route{Path: "/jobs", AllowedRoles: []domain.Role{domain.RoleClient}},
			path:   "/jobs",
			viewer: Viewer{},
			want:   Authorized,
		},
		{
			name:   "public route",
			route:  Route{Path: "/"},
			path:   "/",
			viewer: Viewer{},
			want:   Authorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Evaluate(tt.route, tt.path, tt.viewer)
			assert.Equal(t, tt.want, d.State, d.State.String())
			assert.Equal(t, tt.target, d.Target)
			assert.Equal(t, tt.from, d.From)
		})
	}
}

func TestTable_Lookup(t *testing.T) {
	table := NewTable([]Route{
		{Path: "/client", RequireAuth: true, AllowedRoles: []domain.Role{domain.RoleClient}},
		{Path: "/client/public/", RequireAuth: false},
		{Path: "dashboard", RequireAuth: true},
	})

	assert.Equal(t, "/client", table.Lookup("/client").Path)
	assert.Equal(t, "/client", table.Lookup("/client/jobs/7").Path)
	assert.Equal(t, "/client/public", table.Lookup("/client/public/faq").Path)
	assert.True(t, table.Lookup("/dashboard/").RequireAuth)

	unknown := table.Lookup("/clients")
	assert.False(t, unknown.RequireAuth, "prefix match must respect segment boundaries")
	assert.Nil(t, unknown.AllowedRoles)
}

func TestTableFromConfig_RejectsUnknownRole(t *testing.T) {
	_, err := TableFromConfig([]config.RouteConfig{{Path: "/x", AllowedRoles: []string{"owner"}}})
	require.Error(t, err)
}

func TestHomesFromConfig(t *testing.T) {
	homes, err := HomesFromConfig(map[string]string{"client": "client", "admin": "/backoffice/"})
	require.NoError(t, err)
	assert.Equal(t, "/client", homes.For(domain.RoleClient))
	assert.Equal(t, "/backoffice", homes.For(domain.RoleAdmin))
	assert.Equal(t, "/", homes.For(domain.RoleFreelancer))

	_, err = HomesFromConfig(map[string]string{"owner": "/owner"})
	require.Error(t, err)
}

type fakeSession struct {
	mu    sync.Mutex
	ready chan struct{}
	snap  session.Snapshot
}

func (f *fakeSession) Ready() <-chan struct{} { return f.ready }

func (f *fakeSession) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSession) settle(snap session.Snapshot) {
	f.mu.Lock()
	f.snap = snap
	f.mu.Unlock()
	close(f.ready)
}

func settled(snap session.Snapshot) *fakeSession {
	ch := make(chan struct{})
	close(ch)
	return &fakeSession{ready: ch, snap: snap}
}

func newRouter(g *Guard, sess Session) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger, _ := logtest.NewNullLogger()
	r := gin.New()
	r.Use(g.Middleware(func(*gin.Context) Session { return sess }, MiddlewareConfig{
		InitWait: 20 * time.Millisecond,
		Logger:   logger,
	}))
	r.GET("/*path", func(c *gin.Context) {
		d, ok := decisionFrom(c)
		if !ok {
			c.String(http.StatusInternalServerError, "no decision")
			return
		}
		c.String(http.StatusOK, "page "+d.State.String())
	})
	return r
}

func serve(r http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestMiddleware(t *testing.T) {
	g := newTestGuard(t)
	freelancer := &domain.User{ID: "u-1", Role: domain.RoleFreelancer}

	t.Run("loading placeholder while session settles", func(t *testing.T) {
		w := serve(newRouter(g, &fakeSession{ready: make(chan struct{}), snap: session.Snapshot{Initializing: true}}), "/dashboard")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "1", w.Header().Get("Refresh"))
		assert.Contains(t, w.Body.String(), "Loading")
	})

	t.Run("anonymous redirected to login with origin", func(t *testing.T) {
		w := serve(newRouter(g, settled(session.Snapshot{})), "/dashboard?tab=jobs")
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/login?from=%2Fdashboard%3Ftab%3Djobs", w.Header().Get("Location"))
	})

	t.Run("wrong role redirected home", func(t *testing.T) {
		w := serve(newRouter(g, settled(session.Snapshot{User: freelancer, Authenticated: true})), "/client/jobs")
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/freelancer", w.Header().Get("Location"))
	})

	t.Run("authorized passes through", func(t *testing.T) {
		w := serve(newRouter(g, settled(session.Snapshot{User: freelancer, Authenticated: true})), "/freelancer")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "page authorized", w.Body.String())
	})

	t.Run("public path for anonymous visitor", func(t *testing.T) {
		w := serve(newRouter(g, settled(session.Snapshot{})), "/")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "page authorized", w.Body.String())
	})
}

func TestMiddleware_UnauthorizedAtOwnHome(t *testing.T) {
	// a freelancer whose home is itself restricted to clients
	table := NewTable([]Route{{Path: "/freelancer", RequireAuth: true, AllowedRoles: []domain.Role{domain.RoleClient}}})
	g := New(table, DefaultHomes(), "", "")
	freelancer := &domain.User{ID: "u-1", Role: domain.RoleFreelancer}

	w := serve(newRouter(g, settled(session.Snapshot{User: freelancer, Authenticated: true})), "/freelancer")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Access denied")
	assert.Contains(t, w.Body.String(), "Go back")
}

func TestMiddleware_WaitsForReadySession(t *testing.T) {
	g := newTestGuard(t)
	sess := &fakeSession{ready: make(chan struct{}), snap: session.Snapshot{Initializing: true}}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(g.Middleware(func(*gin.Context) Session { return sess }, MiddlewareConfig{InitWait: 2 * time.Second}))
	r.GET("/dashboard", func(c *gin.Context) { c.String(http.StatusOK, "dashboard") })

	// settle before the request starts waiting; the middleware reads the
	// snapshot only after Ready fires
	sess.settle(session.Snapshot{User: &domain.User{ID: "u-1", Role: domain.RoleClient}, Authenticated: true})

	w := serve(r, "/dashboard")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dashboard", w.Body.String())
}

func TestMiddleware_FormSubmitWaitsPastInitWait(t *testing.T) {
	g := newTestGuard(t)
	sess := &fakeSession{ready: make(chan struct{}), snap: session.Snapshot{Initializing: true}}
	gin.SetMode(gin.TestMode)
	logger, _ := logtest.NewNullLogger()
	r := gin.New()
	r.Use(g.Middleware(func(*gin.Context) Session { return sess }, MiddlewareConfig{
		InitWait:   10 * time.Millisecond,
		SubmitWait: 2 * time.Second,
		Logger:     logger,
	}))
	r.POST("/login", func(c *gin.Context) { c.String(http.StatusSeeOther, "signed in") })

	time.AfterFunc(100*time.Millisecond, func() { sess.settle(session.Snapshot{}) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("email=a%40b.c")))
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "signed in", w.Body.String())
	assert.Empty(t, w.Header().Get("Refresh"))
}

func TestMiddleware_FormSubmitNeverGetsLoadingPage(t *testing.T) {
	g := newTestGuard(t)
	sess := &fakeSession{ready: make(chan struct{}), snap: session.Snapshot{Initializing: true}}
	gin.SetMode(gin.TestMode)
	logger, _ := logtest.NewNullLogger()
	r := gin.New()
	r.Use(g.Middleware(func(*gin.Context) Session { return sess }, MiddlewareConfig{
		InitWait:   10 * time.Millisecond,
		SubmitWait: 20 * time.Millisecond,
		Logger:     logger,
	}))
	r.POST("/login", func(c *gin.Context) { c.String(http.StatusSeeOther, "signed in") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.NotContains(t, w.Body.String(), "Loading")
}

func TestCheck_CleansCurrentPath(t *testing.T) {
	// every page requires a session, the auth pages included
	table := NewTable([]Route{{Path: "/", RequireAuth: true}})
	g := New(table, DefaultHomes(), "/login/", "signup")

	for _, p := range []string{"/login", "/login/", "//login", "/signup/", "/x/../login"} {
		d := g.Check(p, Viewer{})
		assert.Equal(t, Authorized, d.State, p)
	}

	d := g.Check("/dashboard/", Viewer{})
	assert.Equal(t, RedirectToLogin, d.State)
	assert.Equal(t, "/login", d.Target)
	assert.Equal(t, "/dashboard", d.From)

	freelancer := Viewer{Authenticated: true, Role: domain.RoleFreelancer}
	table = NewTable([]Route{{Path: "/freelancer", RequireAuth: true, AllowedRoles: []domain.Role{domain.RoleClient}}})
	g = New(table, DefaultHomes(), "", "")
	assert.Equal(t, Unauthorized, g.Check("/freelancer/", freelancer).State, "trailing slash is still the role home")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "redirect_to_login", RedirectToLogin.String())
	assert.Equal(t, "state(42)", State(42).String())
}
