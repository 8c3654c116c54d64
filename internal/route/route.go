// Package route maps UI routes to companion URLs and keeps one workspace's
// view pointed at the right page as the companion comes and goes.
package route

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Route names a page of the companion UI.
type Route string

const (
	NewWorkspace     Route = "new-workspace"
	Workspace        Route = "workspace"
	Generate         Route = "generate"
	Tasks            Route = "tasks"
	Extensions       Route = "extensions"
	Connect          Route = "connect"
	AffectedProjects Route = "affected-projects"
	Settings         Route = "settings"
)

// Default is the route a workspace opens on when none is given.
const Default = Generate

// All lists every route, mapped or not.
var All = []Route{NewWorkspace, Workspace, Generate, Tasks, Extensions, Connect, AffectedProjects, Settings}

var (
	// ErrUnknownRoute is returned by Parse for names that are not routes.
	ErrUnknownRoute = errors.New("unknown route")
	// ErrUnmappedRoute is returned for routes with no companion page.
	ErrUnmappedRoute = errors.New("route has no url mapping")
)

// templates take the port and the query-escaped workspace path, in that
// order. Connect ignores the path.
var templates = map[Route]string{
	Workspace:        "http://localhost:%s/workspace/%s",
	Generate:         "http://localhost:%s/workspace/%s/generate",
	Tasks:            "http://localhost:%s/workspace/%s/tasks",
	Connect:          "http://localhost:%s/connect/support",
	AffectedProjects: "http://localhost:%s/workspace/%s/connect/affected-projects",
	Extensions:       "http://localhost:%s/workspace/%s/extensions",
	Settings:         "http://localhost:%s/workspace/%s/settings",
}

// Parse accepts a route name in kebab, camel or lower case
// ("affected-projects", "AffectedProjects", "affectedprojects").
func Parse(s string) (Route, error) {
	norm := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.TrimSpace(s)))
	for _, r := range All {
		if strings.ReplaceAll(string(r), "-", "") == norm {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRoute, s)
}

// Mapped reports whether r has a companion page.
func (r Route) Mapped() bool {
	_, ok := templates[r]
	return ok
}

// URL returns the companion page for r in the workspace at path, served on
// port.
func URL(r Route, port int, path string) (string, error) {
	tmpl, ok := templates[r]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnmappedRoute, r)
	}
	p := strconv.Itoa(port)
	if r == Connect {
		return fmt.Sprintf(tmpl, p), nil
	}
	return fmt.Sprintf(tmpl, p, url.QueryEscape(path)), nil
}
