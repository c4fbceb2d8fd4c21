package handlers

import (
	"errors"
	"html/template"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/valyala/bytebufferpool"

	"github.com/htrucci/jwp-was-kakao/pkg/webserver/http11"
	"github.com/htrucci/jwp-was-kakao/pkg/webserver/user"
)

// Redirect targets used by the user controllers.
const (
	PathIndex       = "/index.html"
	PathLogin       = "/user/login.html"
	PathLoginFailed = "/user/login_failed.html"
)

// UserStore is the subset of user.MemoryStore the controllers need.
type UserStore interface {
	Create(reg user.Registration) (user.User, error)
	Authenticate(id, password string) (user.User, error)
	List() []user.User
}

// Sessions issues and verifies login tokens.
type Sessions interface {
	Issue(userID string) (string, error)
	Verify(token string) (string, error)
}

// CookieConfig describes the session cookie.
type CookieConfig struct {
	Name string
	// MaxAge in seconds. 0 omits the attribute.
	MaxAge int
}

func (c CookieConfig) attrs() []string {
	attrs := []string{"Path=/", "HttpOnly", "SameSite=Lax"}
	if c.MaxAge > 0 {
		attrs = append(attrs, "Max-Age="+strconv.Itoa(c.MaxAge))
	}
	return attrs
}

// expired returns attributes that make the client drop the cookie.
func (c CookieConfig) expired() []string {
	return []string{"Path=/", "HttpOnly", "SameSite=Lax", "Max-Age=0"}
}

// SignUp registers a user from a form or JSON body and redirects to the
// index page. Missing fields are 400, a taken ID is 409.
type SignUp struct {
	Users  UserStore
	Logger zerolog.Logger
}

// Handle implements router.Handler.
func (h *SignUp) Handle(req *http11.Request, resp *http11.Response) error {
	var reg user.Registration
	err := decodeForm(req, &reg, func(v url.Values) {
		reg = user.Registration{
			ID:       v.Get("userId"),
			Password: v.Get("password"),
			Name:     v.Get("name"),
			Email:    v.Get("email"),
		}
	})
	if err != nil {
		return resp.WriteText(http11.StatusBadRequest, err.Error())
	}

	u, err := h.Users.Create(reg)
	switch {
	case errors.Is(err, user.ErrInvalidUser):
		return resp.WriteText(http11.StatusBadRequest, err.Error())
	case errors.Is(err, user.ErrDuplicateUser):
		return resp.WriteText(http11.StatusConflict, err.Error())
	case err != nil:
		return err
	}

	h.Logger.Info().Str("user", u.ID).Msg("user registered")
	return resp.Redirect(PathIndex)
}

type credentials struct {
	ID       string `json:"userId"`
	Password string `json:"password"`
}

// Login checks credentials. On success it sets the session cookie and
// redirects to the index page; on failure it clears the cookie and
// redirects to the login failure page.
type Login struct {
	Users    UserStore
	Sessions Sessions
	Cookie   CookieConfig
	Logger   zerolog.Logger
}

// Handle implements router.Handler.
func (h *Login) Handle(req *http11.Request, resp *http11.Response) error {
	var c credentials
	err := decodeForm(req, &c, func(v url.Values) {
		c = credentials{ID: v.Get("userId"), Password: v.Get("password")}
	})
	if err != nil {
		return h.fail(resp)
	}

	u, err := h.Users.Authenticate(c.ID, c.Password)
	if errors.Is(err, user.ErrInvalidCredentials) {
		h.Logger.Info().Str("user", c.ID).Msg("login failed")
		return h.fail(resp)
	}
	if err != nil {
		return err
	}

	token, err := h.Sessions.Issue(u.ID)
	if err != nil {
		return err
	}
	if err := resp.Redirect(PathIndex); err != nil {
		return err
	}
	return resp.SetCookie(h.Cookie.Name, token, h.Cookie.attrs()...)
}

func (h *Login) fail(resp *http11.Response) error {
	if err := resp.Redirect(PathLoginFailed); err != nil {
		return err
	}
	return resp.SetCookie(h.Cookie.Name, "", h.Cookie.expired()...)
}

var defaultListTemplate = template.Must(template.New("list").Funcs(ListFuncs).Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Users</title></head>
<body>
<table class="table">
<thead><tr><th>#</th><th>User ID</th><th>Name</th><th>Email</th></tr></thead>
<tbody>
{{- range $i, $u := .Users}}
<tr><th scope="row">{{inc $i}}</th><td>{{$u.ID}}</td><td>{{$u.Name}}</td><td>{{$u.Email}}</td></tr>
{{- end}}
</tbody>
</table>
</body>
</html>
`))

// ListFuncs are the template functions available to a custom list
// template.
var ListFuncs = template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}

// UserList renders every registered user for a logged-in client. Without a
// valid session cookie it redirects to the login page. Clients that accept
// application/json get {"users": [...]}.
type UserList struct {
	Users    UserStore
	Sessions Sessions
	Cookie   CookieConfig
	// Template overrides the built-in HTML table. It is executed with a
	// value whose Users field holds the users.
	Template *template.Template
}

type listPage struct {
	Viewer string      `json:"viewer"`
	Users  []user.User `json:"users"`
}

// Handle implements router.Handler.
func (h *UserList) Handle(req *http11.Request, resp *http11.Response) error {
	token, ok := req.Cookie(h.Cookie.Name)
	if !ok || token == "" {
		return resp.Redirect(PathLogin)
	}
	viewer, err := h.Sessions.Verify(token)
	if err != nil {
		return resp.Redirect(PathLogin)
	}

	page := listPage{Viewer: viewer, Users: h.Users.List()}

	if wantsJSON(req.HeaderValue(http11.HeaderAccept)) {
		data, err := json.Marshal(page)
		if err != nil {
			return err
		}
		return resp.WriteJSON(http11.StatusOK, data)
	}

	tmpl := h.Template
	if tmpl == nil {
		tmpl = defaultListTemplate
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := tmpl.Execute(buf, page); err != nil {
		return err
	}
	return resp.WriteHTML(http11.StatusOK, buf.B)
}
