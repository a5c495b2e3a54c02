package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/deskclient/internal/client/app"
	"github.com/dmitrijs2005/deskclient/internal/client/modals"
	"github.com/dmitrijs2005/deskclient/internal/client/models"
	"github.com/dmitrijs2005/deskclient/internal/client/projects"
	"github.com/dmitrijs2005/deskclient/internal/client/session"
	"github.com/dmitrijs2005/deskclient/internal/common"
)

var errNotSignedIn = errors.New("not signed in")

// Shell is the terminal front-end over an app.App.
type Shell struct {
	app    *app.App
	reader *bufio.Reader
	out    io.Writer
}

// NewShell reads commands from in and writes results to out.
func NewShell(a *app.App, in io.Reader, out io.Writer) *Shell {
	return &Shell{app: a, reader: bufio.NewReader(in), out: out}
}

// Run blocks until the user exits or input ends.
func (s *Shell) Run(ctx context.Context) {
	// The projects subscription keeps the session store active as well.
	unsubProjects := s.app.Projects.Subscribe(func(projects.State, uint64) {})
	defer unsubProjects()

	unsubSession := s.watchSession(ctx)
	defer unsubSession()

	fmt.Fprintln(s.out, "Workspace CLI (type 'help' for commands)")

	waitCtx, cancel := context.WithTimeout(ctx, s.app.Config.RequestTimeout)
	_, err := s.app.Session.AwaitState(waitCtx, session.StateAnonymous, session.StateAuthenticated)
	cancel()
	if err != nil {
		s.app.Log.Warn(ctx, "session not settled before prompt", "error", err)
	}

	runREPL(ctx, s, s.status, s.reader)
}

// watchSession logs identity changes, including those made by other
// processes sharing the token storage.
func (s *Shell) watchSession(ctx context.Context) func() {
	var prev session.State
	return s.app.Session.Subscribe(func(v session.Session, _ uint64) {
		if v.State == prev {
			return
		}
		if prev == session.StateAuthenticated && v.State == session.StateAnonymous {
			s.app.Log.Info(ctx, "signed out", "generation", v.Generation)
		}
		if v.State == session.StateAuthenticated && v.User != nil {
			s.app.Log.Info(ctx, "signed in", "user", v.User.Email, "generation", v.Generation)
		}
		prev = v.State
	})
}

func (s *Shell) isLoggedIn() bool {
	return s.app.Session.Current().Authenticated()
}

func (s *Shell) status() string {
	cur := s.app.Session.Current()
	label := strings.ToLower(string(cur.State))
	if cur.Authenticated() && cur.User != nil {
		label = cur.User.Email
	}
	if s.app.UI.State().CalendarOpen {
		label += " +calendar"
	}
	return "(" + label + ")"
}

func (s *Shell) requireLogin() error {
	if !s.isLoggedIn() {
		fmt.Fprintln(s.out, "Please log in first")
		return errNotSignedIn
	}
	return nil
}

func (s *Shell) fail(ctx context.Context, what string, err error) error {
	fmt.Fprintf(s.out, "%s: %v\n", what, err)
	s.app.Log.Debug(ctx, what, "error", err)
	return err
}

func (s *Shell) Login(ctx context.Context, args []string) error {
	if cur := s.app.Session.Current(); cur.Authenticated() && cur.User != nil {
		fmt.Fprintf(s.out, "Already signed in as %s\n", cur.User.Email)
		return nil
	}

	var email string
	if len(args) > 0 {
		email = args[0]
	} else {
		var err error
		email, err = GetSimpleText(s.reader, "Enter email", s.out)
		if err != nil {
			return s.fail(ctx, "Login unsuccessful", err)
		}
	}

	password, err := GetPassword(s.out)
	if err != nil {
		return s.fail(ctx, "Login unsuccessful", err)
	}
	defer common.WipeByteArray(password)

	user, err := s.app.Session.SignIn(ctx, models.Credentials{Email: email, Password: string(password)})
	if err != nil {
		return s.fail(ctx, "Login unsuccessful", err)
	}
	fmt.Fprintf(s.out, "Signed in as %s\n", user.Name)
	return nil
}

func (s *Shell) Logout(ctx context.Context) error {
	if err := s.requireLogin(); err != nil {
		return err
	}
	if err := s.app.Session.SignOut(ctx); err != nil {
		// The session is anonymous regardless; only the stored copy may linger.
		return s.fail(ctx, "Signed out, but clearing saved credentials failed", err)
	}
	fmt.Fprintln(s.out, "Signed out")
	return nil
}

func (s *Shell) Whoami(ctx context.Context) error {
	if err := s.requireLogin(); err != nil {
		return err
	}
	u := s.app.Session.Current().User
	fmt.Fprintf(s.out, "%s <%s>\n", u.Name, u.Email)
	if u.Nickname != "" {
		fmt.Fprintf(s.out, "nickname: %s\n", u.Nickname)
	}
	if u.Timezone != "" {
		fmt.Fprintf(s.out, "timezone: %s\n", u.Timezone)
	}
	return nil
}

// List prints the cached projects. Entries with a mutation in flight are
// marked with an asterisk.
func (s *Shell) List(ctx context.Context) error {
	if err := s.requireLogin(); err != nil {
		return err
	}
	list := s.app.Projects.List(ctx)
	if len(list) == 0 {
		fmt.Fprintln(s.out, "No projects")
		return nil
	}

	pending := make(map[string]bool)
	for _, id := range s.app.Projects.Snapshot().Pending {
		pending[id] = true
	}

	tw := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSHORTCODE\tNAME")
	for _, p := range list {
		mark := ""
		if pending[p.ID] {
			mark = " *"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s%s\n", p.ID, p.Shortcode, p.Name, mark)
	}
	return tw.Flush()
}

func (s *Shell) Refresh(ctx context.Context) error {
	if err := s.requireLogin(); err != nil {
		return err
	}
	if err := s.app.Projects.Refresh(ctx); err != nil {
		return s.fail(ctx, "Refresh failed", err)
	}
	return s.List(ctx)
}

func (s *Shell) Create(ctx context.Context, args []string) error {
	if err := s.requireLogin(); err != nil {
		return err
	}
	s.app.Modals.Open(modals.CreateProject, nil)
	defer s.app.Modals.Close(modals.CreateProject)

	name := strings.Join(args, " ")
	if name == "" {
		var err error
		name, err = GetSimpleText(s.reader, "Project name", s.out)
		if err != nil {
			return s.fail(ctx, "Create failed", err)
		}
	}

	p, err := s.app.Projects.Create(ctx, name)
	if err != nil {
		return s.fail(ctx, "Create failed", err)
	}
	fmt.Fprintf(s.out, "Created project %s (%s)\n", p.Name, p.ID)
	return nil
}

func (s *Shell) Rename(ctx context.Context, args []string) error {
	if err := s.requireLogin(); err != nil {
		return err
	}
	if len(args) == 0 {
		fmt.Fprintln(s.out, "Usage: rename <id> [name]")
		return nil
	}
	p, ok := s.lookup(ctx, args[0])
	if !ok {
		return nil
	}

	s.app.Modals.Open(modals.RenameProject, p)
	defer s.app.Modals.Close(modals.RenameProject)

	name := strings.Join(args[1:], " ")
	if name == "" {
		var err error
		name, err = GetSimpleText(s.reader, fmt.Sprintf("New name for %q", p.Name), s.out)
		if err != nil {
			return s.fail(ctx, "Rename failed", err)
		}
	}

	renamed, err := s.app.Projects.Rename(ctx, p.ID, name)
	if err != nil {
		return s.fail(ctx, "Rename failed", err)
	}
	fmt.Fprintf(s.out, "Renamed %s to %s\n", renamed.ID, renamed.Name)
	return nil
}

func (s *Shell) Delete(ctx context.Context, args []string) error {
	if err := s.requireLogin(); err != nil {
		return err
	}
	if len(args) != 1 {
		fmt.Fprintln(s.out, "Usage: delete <id>")
		return nil
	}
	p, ok := s.lookup(ctx, args[0])
	if !ok {
		return nil
	}

	s.app.Modals.Open(modals.DeleteProject, p)
	defer s.app.Modals.Close(modals.DeleteProject)

	yes, err := Confirm(s.reader, fmt.Sprintf("Delete project %q?", p.Name), s.out)
	if err != nil {
		return s.fail(ctx, "Delete failed", err)
	}
	if !yes {
		fmt.Fprintln(s.out, "Cancelled")
		return nil
	}

	if err := s.app.Projects.Delete(ctx, p.ID); err != nil {
		return s.fail(ctx, "Delete failed", err)
	}
	fmt.Fprintf(s.out, "Deleted project %s\n", p.Name)
	return nil
}

// lookup resolves a live project by id, fetching the list first if the
// cache is cold.
func (s *Shell) lookup(ctx context.Context, id string) (models.Project, bool) {
	if s.app.Projects.Snapshot().FetchedAt.IsZero() {
		if err := s.app.Projects.Refresh(ctx); err != nil {
			s.app.Log.Debug(ctx, "project lookup refresh failed", "error", err)
		}
	}
	p, ok := s.app.Projects.Get(id)
	if !ok || p.IsDeleted() {
		fmt.Fprintf(s.out, "Project %s not found\n", id)
		return models.Project{}, false
	}
	return p, true
}

func (s *Shell) Open(ctx context.Context, args []string) error {
	if err := s.requireLogin(); err != nil {
		return err
	}
	if len(args) != 2 {
		fmt.Fprintln(s.out, "Usage: open <project-id> <doc-id>")
		return nil
	}
	doc, err := s.app.Projects.ReadDocument(ctx, args[0], args[1])
	if err != nil {
		return s.fail(ctx, "Open failed", err)
	}
	printBlocks(s.out, doc.Content, 0)
	return nil
}

func printBlocks(w io.Writer, blocks []models.Block, depth int) {
	for _, b := range blocks {
		fmt.Fprintf(w, "%s- %s\n", strings.Repeat("  ", depth), b.Type)
		printBlocks(w, b.Content, depth+1)
	}
}

func (s *Shell) Calendar(_ context.Context) error {
	if s.app.UI.ToggleCalendar() {
		fmt.Fprintln(s.out, "Calendar opened")
	} else {
		fmt.Fprintln(s.out, "Calendar closed")
	}
	return nil
}

func (s *Shell) Fork(ctx context.Context) error {
	if err := s.requireLogin(); err != nil {
		return err
	}
	tok, err := s.app.Session.Fork(ctx)
	if err != nil {
		return s.fail(ctx, "Fork failed", err)
	}
	fmt.Fprintln(s.out, tok.Token)
	if tok.Exp != nil {
		fmt.Fprintf(s.out, "expires %s\n", time.Unix(*tok.Exp, 0).Format(time.RFC3339))
	}
	return nil
}
