package guard

import (
	"bytes"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"skilllink/internal/session"
)

const decisionKey = "guard.decision"

// Session is the part of a session store the middleware reads.
type Session interface {
	Ready() <-chan struct{}
	Snapshot() session.Snapshot
}

// SessionFunc finds the session of the current request.
type SessionFunc func(c *gin.Context) Session

// ViewerOf converts a session snapshot into guard input.
func ViewerOf(s session.Snapshot) Viewer {
	return Viewer{
		Initializing:  s.Initializing,
		Authenticated: s.Authenticated,
		Role:          s.Role(),
	}
}

// MiddlewareConfig tunes Middleware.
type MiddlewareConfig struct {
	// InitWait is how long a request waits for a new session to settle
	// before the Loading placeholder is served.
	InitWait time.Duration
	// SubmitWait bounds how long a form submission waits for the session to
	// settle. Submissions never get the Loading placeholder.
	SubmitWait time.Duration
	// RefreshAfter is the Refresh header value of the Loading page.
	RefreshAfter time.Duration
	Logger       *logrus.Logger
}

var (
	loadingPage = template.Must(template.New("loading").Parse(
		`<!doctype html><html><head><title>SkillLink</title></head><body><p>Loading&hellip;</p></body></html>`))
	deniedPage = template.Must(template.New("denied").Parse(
		`<!doctype html><html><head><title>Access denied</title></head><body>` +
			`<h1>Access denied</h1><p>Your account cannot open {{.Path}}.</p>` +
			`<p><a href="{{.Back}}" onclick="history.back();return false;">Go back</a></p></body></html>`))
)

// Middleware evaluates every request with g and answers redirects, the
// Loading placeholder and the access denied page itself. Authorized requests
// continue to the next handler.
func (g *Guard) Middleware(sessionFor SessionFunc, cfg MiddlewareConfig) gin.HandlerFunc {
	if cfg.RefreshAfter <= 0 {
		cfg.RefreshAfter = time.Second
	}
	if cfg.SubmitWait <= 0 {
		cfg.SubmitWait = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	return func(c *gin.Context) {
		sess := sessionFor(c)
		navigation := c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead
		wait := cfg.InitWait
		if !navigation {
			wait = cfg.SubmitWait
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-sess.Ready():
			case <-timer.C:
			case <-c.Request.Context().Done():
			}
			timer.Stop()
		}

		d := g.Check(c.Request.URL.Path, ViewerOf(sess.Snapshot()))
		if d.State == RedirectToLogin {
			d.From = c.Request.URL.RequestURI()
		}
		c.Set(decisionKey, d)

		logger := cfg.Logger.WithFields(logrus.Fields{"path": c.Request.URL.Path, "decision": d.State.String()})
		switch d.State {
		case Loading:
			if !navigation {
				logger.Warn("form submitted before the session settled")
				c.Header("Retry-After", strconv.Itoa(int(cfg.RefreshAfter/time.Second)))
				c.String(http.StatusServiceUnavailable, "session is still loading, please submit again")
				c.Abort()
				return
			}
			c.Header("Refresh", strconv.Itoa(int(cfg.RefreshAfter/time.Second)))
			render(c, http.StatusOK, loadingPage, nil)
			c.Abort()
		case RedirectToLogin:
			logger.Debug("anonymous visitor sent to login")
			c.Redirect(http.StatusFound, d.Target+"?from="+url.QueryEscape(d.From))
			c.Abort()
		case RedirectToRoleHome:
			logger.Debugf("visitor sent to role home %s", d.Target)
			c.Redirect(http.StatusFound, d.Target)
			c.Abort()
		case Unauthorized:
			logger.Info("access denied")
			render(c, http.StatusForbidden, deniedPage, gin.H{"Path": c.Request.URL.Path, "Back": "/"})
			c.Abort()
		default:
			c.Next()
		}
	}
}

func decisionFrom(c *gin.Context) (Decision, bool) {
	v, ok := c.Get(decisionKey)
	if !ok {
		return Decision{}, false
	}
	d, ok := v.(Decision)
	return d, ok
}

func render(c *gin.Context, status int, tmpl *template.Template, data any) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		c.String(http.StatusInternalServerError, "render page: %v", err)
		return
	}
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}
