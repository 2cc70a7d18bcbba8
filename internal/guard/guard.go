// Package guard decides, for every page navigation, whether the visitor may
// see the page or where it should be sent instead.
package guard

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"skilllink/internal/config"
	"skilllink/internal/domain"
	"skilllink/internal/role"
)

// State is the outcome of one evaluation.
type State int

const (
	Loading State = iota
	Authorized
	RedirectToLogin
	RedirectToRoleHome
	Unauthorized
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Authorized:
		return "authorized"
	case RedirectToLogin:
		return "redirect_to_login"
	case RedirectToRoleHome:
		return "redirect_to_role_home"
	case Unauthorized:
		return "unauthorized"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Decision is a State plus its redirect target. From is the originally
// requested path, kept on login redirects so the visitor can return to it.
type Decision struct {
	State  State
	Target string
	From   string
}

// Route is the access rule of one path prefix. A nil AllowedRoles means any
// role may enter.
type Route struct {
	Path         string
	RequireAuth  bool
	AllowedRoles []domain.Role
}

// Viewer is what the guard needs to know about the session.
type Viewer struct {
	Initializing  bool
	Authenticated bool
	Role          domain.Role
}

// Homes maps roles to their landing paths.
type Homes map[domain.Role]string

// DefaultHomes returns the built-in landing paths. Roles without an entry,
// admin included, land on the site root.
func DefaultHomes() Homes {
	return Homes{
		domain.RoleClient:     "/client",
		domain.RoleFreelancer: "/freelancer",
	}
}

// For returns the landing path of r, or the site root.
func (h Homes) For(r domain.Role) string {
	if p, ok := h[r]; ok && p != "" {
		return p
	}
	return "/"
}

// Guard evaluates navigations against a route table.
type Guard struct {
	table      *Table
	homes      Homes
	loginPath  string
	signupPath string
}

func New(table *Table, homes Homes, loginPath, signupPath string) *Guard {
	if homes == nil {
		homes = DefaultHomes()
	}
	if loginPath == "" {
		loginPath = "/login"
	}
	if signupPath == "" {
		signupPath = "/signup"
	}
	return &Guard{table: table, homes: homes, loginPath: cleanPath(loginPath), signupPath: cleanPath(signupPath)}
}

// Check cleans p, looks it up in the table and evaluates it.
func (g *Guard) Check(p string, v Viewer) Decision {
	p = cleanPath(p)
	return g.Evaluate(g.table.Lookup(p), p, v)
}

// Evaluate runs the navigation rules in order: a store that is still
// initializing yields Loading; an anonymous visitor on a protected route is
// sent to login; an authenticated visitor whose role is not allowed is sent
// to its role home, or shown Unauthorized when already there; everything
// else is Authorized.
func (g *Guard) Evaluate(route Route, current string, v Viewer) Decision {
	if v.Initializing {
		return Decision{State: Loading}
	}
	if route.RequireAuth && !v.Authenticated && current != g.loginPath && current != g.signupPath {
		return Decision{State: RedirectToLogin, Target: g.loginPath, From: current}
	}
	if route.AllowedRoles != nil && v.Authenticated {
		if role.Allowed(v.Role, route.AllowedRoles) {
			return Decision{State: Authorized}
		}
		home := g.homes.For(v.Role)
		if home != current {
			return Decision{State: RedirectToRoleHome, Target: home}
		}
		return Decision{State: Unauthorized}
	}
	return Decision{State: Authorized}
}

// Home returns the landing path of r.
func (g *Guard) Home(r domain.Role) string {
	return g.homes.For(r)
}

func (g *Guard) LoginPath() string  { return g.loginPath }
func (g *Guard) SignupPath() string { return g.signupPath }

// Table resolves paths to routes by longest matching prefix on segment
// boundaries. Paths without a rule are public.
type Table struct {
	routes []Route
}

func NewTable(routes []Route) *Table {
	sorted := make([]Route, len(routes))
	for i, r := range routes {
		r.Path = cleanPath(r.Path)
		sorted[i] = r
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Path) > len(sorted[j].Path)
	})
	return &Table{routes: sorted}
}

// TableFromConfig builds a table from configured route rules.
func TableFromConfig(in []config.RouteConfig) (*Table, error) {
	routes := make([]Route, 0, len(in))
	for _, rc := range in {
		r := Route{Path: rc.Path, RequireAuth: rc.RequireAuth}
		if len(rc.AllowedRoles) > 0 {
			allowed, err := role.ParseList(rc.AllowedRoles)
			if err != nil {
				return nil, fmt.Errorf("route %s: %w", rc.Path, err)
			}
			r.AllowedRoles = allowed
		}
		routes = append(routes, r)
	}
	return NewTable(routes), nil
}

// HomesFromConfig parses a role to path map.
func HomesFromConfig(in map[string]string) (Homes, error) {
	homes := Homes{}
	for k, v := range in {
		r, err := role.Parse(k)
		if err != nil {
			return nil, err
		}
		homes[r] = cleanPath(v)
	}
	return homes, nil
}

func (t *Table) Lookup(p string) Route {
	p = cleanPath(p)
	for _, r := range t.routes {
		if r.Path == "/" || p == r.Path || strings.HasPrefix(p, r.Path+"/") {
			return r
		}
	}
	return Route{Path: p}
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
