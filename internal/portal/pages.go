package portal

import (
	"html/template"

	"skilllink/internal/domain"
)

// page is the data every portal template receives.
type page struct {
	Title  string
	User   *domain.User
	Banner string
	Notice string
	From   string
	Token  string
	Form   map[string]string
}

var pages = template.Must(template.New("pages").Parse(`
{{define "header"}}<!doctype html>
<html><head><meta charset="utf-8"><title>{{.Title}} | SkillLink</title></head><body>
<nav><a href="/">SkillLink</a>
{{if .User}}<a href="/dashboard">Dashboard</a> <a href="/profile">{{.User.Name}}</a>
<form method="post" action="/logout" style="display:inline"><button type="submit">Log out</button></form>
{{else}}<a href="/login">Log in</a> <a href="/signup">Sign up</a>{{end}}
</nav>
{{with .Banner}}<p class="banner error" role="alert">{{.}}</p>{{end}}
{{with .Notice}}<p class="banner notice">{{.}}</p>{{end}}
{{end}}

{{define "footer"}}</body></html>{{end}}

{{define "home.html"}}{{template "header" .}}
<h1>SkillLink</h1>
<p>Find freelancers for your projects, or find projects for your skills.</p>
{{template "footer" .}}{{end}}

{{define "login.html"}}{{template "header" .}}
<h1>Log in</h1>
<form method="post" action="/login">
<input type="hidden" name="from" value="{{.From}}">
<label>Email <input type="email" name="email" value="{{index .Form "email"}}"></label>
<label>Password <input type="password" name="password"></label>
<button type="submit">Log in</button>
</form>
<p><a href="/forgot-password">Forgot your password?</a></p>
{{template "footer" .}}{{end}}

{{define "signup.html"}}{{template "header" .}}
<h1>Sign up</h1>
<form method="post" action="/signup">
<input type="hidden" name="from" value="{{.From}}">
<label>Name <input name="name" value="{{index .Form "name"}}"></label>
<label>Email <input type="email" name="email" value="{{index .Form "email"}}"></label>
<label>Password <input type="password" name="password"></label>
<label>I am a <select name="role">
<option value="client"{{if eq (index .Form "role") "client"}} selected{{end}}>Client</option>
<option value="freelancer"{{if eq (index .Form "role") "freelancer"}} selected{{end}}>Freelancer</option>
</select></label>
<button type="submit">Create account</button>
</form>
{{template "footer" .}}{{end}}

{{define "forgot.html"}}{{template "header" .}}
<h1>Reset your password</h1>
<form method="post" action="/forgot-password">
<label>Email <input type="email" name="email" value="{{index .Form "email"}}"></label>
<button type="submit">Send reset link</button>
</form>
{{template "footer" .}}{{end}}

{{define "reset.html"}}{{template "header" .}}
<h1>Choose a new password</h1>
<form method="post" action="/reset-password">
<input type="hidden" name="token" value="{{.Token}}">
<label>New password <input type="password" name="password"></label>
<label>Repeat password <input type="password" name="confirm"></label>
<button type="submit">Update password</button>
</form>
{{template "footer" .}}{{end}}

{{define "area.html"}}{{template "header" .}}
<h1>{{.Title}}</h1>
{{with .User}}<p>Welcome back, {{.Name}}.</p>{{end}}
{{template "footer" .}}{{end}}

{{define "profile.html"}}{{template "header" .}}
<h1>Profile</h1>
{{with .User}}
{{if .Avatar}}<img src="{{.Avatar}}" alt="avatar" width="96" height="96">{{end}}
<dl><dt>Name</dt><dd>{{.Name}}</dd><dt>Email</dt><dd>{{.Email}}</dd><dt>Role</dt><dd>{{.Role}}</dd></dl>
{{end}}
{{template "footer" .}}{{end}}
`))
