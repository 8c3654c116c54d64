package route

import (
	"errors"
	"reflect"
	"sync"
	"testing"
)

func TestURL(t *testing.T) {
	tests := []struct {
		route Route
		want  string
	}{
		{Workspace, "http://localhost:4200/workspace/%2Fhome%2Fme%2Fproj"},
		{Generate, "http://localhost:4200/workspace/%2Fhome%2Fme%2Fproj/generate"},
		{Tasks, "http://localhost:4200/workspace/%2Fhome%2Fme%2Fproj/tasks"},
		{Connect, "http://localhost:4200/connect/support"},
		{AffectedProjects, "http://localhost:4200/workspace/%2Fhome%2Fme%2Fproj/connect/affected-projects"},
		{Extensions, "http://localhost:4200/workspace/%2Fhome%2Fme%2Fproj/extensions"},
		{Settings, "http://localhost:4200/workspace/%2Fhome%2Fme%2Fproj/settings"},
	}
	for _, tt := range tests {
		t.Run(string(tt.route), func(t *testing.T) {
			got, err := URL(tt.route, 4200, "/home/me/proj")
			if err != nil {
				t.Fatalf("URL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("URL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestURLEscapesSpaces(t *testing.T) {
	got, _ := URL(Workspace, 1, "/a b")
	if want := "http://localhost:1/workspace/%2Fa+b"; got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}

func TestURLUnmapped(t *testing.T) {
	if _, err := URL(NewWorkspace, 4200, "/p"); !errors.Is(err, ErrUnmappedRoute) {
		t.Errorf("URL(NewWorkspace) error = %v, want ErrUnmappedRoute", err)
	}
	if NewWorkspace.Mapped() {
		t.Error("NewWorkspace reported as mapped")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Route
		wantErr bool
	}{
		{"generate", Generate, false},
		{"Generate", Generate, false},
		{"AffectedProjects", AffectedProjects, false},
		{"affected-projects", AffectedProjects, false},
		{" settings ", Settings, false},
		{"new_workspace", NewWorkspace, false},
		{"dashboard", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrUnknownRoute) {
				t.Errorf("Parse(%q) error = %v, want ErrUnknownRoute", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

type fakeViewer struct {
	mu    sync.Mutex
	calls []string
}

func (v *fakeViewer) Show(url string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, "show "+url)
}

func (v *fakeViewer) Hide() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, "hide")
}

func (v *fakeViewer) got() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.calls...)
}

func TestCoordinatorFollowsCompanion(t *testing.T) {
	v := &fakeViewer{}
	c := NewCoordinator("/p", "", v)
	if c.Route() != Generate {
		t.Fatalf("initial route = %s, want generate", c.Route())
	}

	// Route changes before the companion is up are remembered, not shown.
	if u, err := c.ChangeRoute(Tasks); err != nil || u != "" {
		t.Fatalf("ChangeRoute(Tasks) = %q, %v", u, err)
	}
	if c.URL() != "" {
		t.Errorf("URL() = %q before start", c.URL())
	}

	c.ServerStarted(4200)
	u, err := c.ChangeRoute(Settings)
	if err != nil {
		t.Fatalf("ChangeRoute(Settings) error = %v", err)
	}
	if u != "http://localhost:4200/workspace/%2Fp/settings" {
		t.Errorf("ChangeRoute(Settings) = %q", u)
	}
	if c.URL() != u {
		t.Errorf("URL() = %q, want %q", c.URL(), u)
	}

	c.ServerStopped()
	c.ServerStopped()
	c.ServerStarted(4300)

	want := []string{
		"show http://localhost:4200/workspace/%2Fp/tasks",
		"show http://localhost:4200/workspace/%2Fp/settings",
		"hide",
		"show http://localhost:4300/workspace/%2Fp/settings",
	}
	if !reflect.DeepEqual(v.got(), want) {
		t.Errorf("viewer calls = %v, want %v", v.got(), want)
	}
}

func TestCoordinatorRejectsUnmappedRoute(t *testing.T) {
	v := &fakeViewer{}
	c := NewCoordinator("/p", Workspace, v)
	c.ServerStarted(1)

	if _, err := c.ChangeRoute(NewWorkspace); !errors.Is(err, ErrUnmappedRoute) {
		t.Fatalf("ChangeRoute(NewWorkspace) error = %v", err)
	}
	if c.Route() != Workspace {
		t.Errorf("route = %s after rejected change, want workspace", c.Route())
	}
	if len(v.got()) != 1 {
		t.Errorf("viewer calls = %v, want only the initial show", v.got())
	}
}

func TestCoordinatorUnmappedInitialHides(t *testing.T) {
	v := &fakeViewer{}
	c := NewCoordinator("/p", NewWorkspace, v)
	c.ServerStarted(1)
	if want := []string{"hide"}; !reflect.DeepEqual(v.got(), want) {
		t.Errorf("viewer calls = %v, want %v", v.got(), want)
	}
}
