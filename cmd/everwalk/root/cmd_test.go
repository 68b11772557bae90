// Package rootcmd_test exercises the everwalk CLI by running the root
// command in-process against the fake backend. Output is captured via
// cobra's SetOut so tests never touch os.Stdout.
package rootcmd_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	rootcmd "github.com/go-ports/everwalk/cmd/everwalk/root"
	"github.com/go-ports/everwalk/internal/api"
	"github.com/go-ports/everwalk/internal/apitest"
	"github.com/go-ports/everwalk/internal/checkers"
	"github.com/go-ports/everwalk/internal/models"
	"github.com/go-ports/everwalk/internal/render"
	"github.com/go-ports/everwalk/internal/session"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type env struct {
	home string
	srv  *apitest.Server
}

func newEnv(c *qt.C) *env {
	c.Helper()
	return &env{home: c.TempDir(), srv: apitest.New(c)}
}

// run executes the root command with the env's home and server prepended to
// args and returns captured stdout.
func (e *env) run(c *qt.C, args ...string) (string, error) {
	c.Helper()

	var out, errOut bytes.Buffer
	root := rootcmd.New()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(append([]string{"--home", e.home, "--server", e.srv.BaseURL()}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *env) mustRun(c *qt.C, args ...string) string {
	c.Helper()
	out, err := e.run(c, args...)
	c.Assert(err, qt.IsNil, qt.Commentf("args: %v", args))
	return out
}

// ---------------------------------------------------------------------------
// Help and version
// ---------------------------------------------------------------------------

func TestHelp(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c)

	out := e.mustRun(c, "--help")
	c.Assert(out, qt.Contains, "EverWalk")
	for _, sub := range []string{"auth", "pets", "videos", "messages", "diary", "config", "mcp", "version"} {
		c.Assert(out, qt.Contains, sub)
	}
}

func TestVersion(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c)

	c.Assert(e.mustRun(c, "version"), qt.Matches, `everwalk \S+ \(commit .*\)\n`)
	c.Assert(e.mustRun(c, "version", "-o", "json"), checkers.JSONPathEquals("$.version"), "dev")
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

func TestAuth_RegisterWhoamiLogout(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c)

	out := e.mustRun(c, "auth", "register", "--email", "mina@example.com", "--password", "pw", "--name", "Mina")
	c.Assert(out, qt.Equals, "Welcome, Mina (mina@example.com)\n")

	out = e.mustRun(c, "auth", "whoami")
	c.Assert(out, qt.Contains, "Mina <mina@example.com>")
	c.Assert(out, qt.Contains, "Token valid until")

	c.Assert(e.mustRun(c, "auth", "logout"), qt.Equals, "Logged out.\n")

	_, err := e.run(c, "auth", "whoami")
	c.Assert(errors.Is(err, session.ErrNotAuthenticated), qt.IsTrue)
	c.Assert(rootcmd.Hint(err), qt.Contains, "auth login")

	out = e.mustRun(c, "auth", "login", "--email", "mina@example.com", "--password", "pw")
	c.Assert(out, qt.Equals, "Logged in as Mina\n")
}

func TestAuth_Failures(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c)

	c.Run("wrong password", func(c *qt.C) {
		e.mustRun(c, "auth", "register", "--email", "a@example.com", "--password", "pw")
		_, err := e.run(c, "auth", "login", "--email", "a@example.com", "--password", "wrong")
		c.Assert(err, qt.IsNotNil)
	})

	c.Run("no password on stdin", func(c *qt.C) {
		before := e.srv.Calls("POST /auth/login")
		_, err := e.run(c, "auth", "login", "--email", "a@example.com")
		c.Assert(err, qt.ErrorMatches, "read password: .*")
		c.Assert(e.srv.Calls("POST /auth/login"), qt.Equals, before)
	})

	c.Run("missing email flag", func(c *qt.C) {
		_, err := e.run(c, "auth", "login", "--password", "pw")
		c.Assert(err, qt.IsNotNil)
	})
}

// ---------------------------------------------------------------------------
// Pets
// ---------------------------------------------------------------------------

func TestPets(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c)

	c.Assert(e.mustRun(c, "pets"), qt.Equals, render.EmptyPets+"\n")

	out := e.mustRun(c, "pets", "create", "Bori", "--image", "https://img.test/bori.jpg", "--species", "dog")
	c.Assert(out, qt.Equals, "Registered: Bori (id: 101)\n")

	out = e.mustRun(c, "pets", "list")
	c.Assert(out, qt.Contains, "Family (1)")
	c.Assert(out, qt.Contains, "[101] Bori (dog)")

	out = e.mustRun(c, "pets", "list", "--jsonpath", "$[*].name")
	c.Assert(out, qt.Equals, "Bori\n")

	out = e.mustRun(c, "pets", "get", "101", "-o", "json")
	c.Assert(out, checkers.JSONPathEquals("$.species"), "dog")

	c.Assert(e.mustRun(c, "pets", "delete", "101"), qt.Equals, "Deleted pet 101\n")
	c.Assert(e.mustRun(c, "pets"), qt.Equals, render.EmptyPets+"\n")
}

func TestPets_CreateRejectsInvalidInput(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c)

	_, err := e.run(c, "pets", "create", "Bori")
	c.Assert(errors.Is(err, models.ErrInvalidInput), qt.IsTrue)
	c.Assert(e.srv.Calls("POST /pets"), qt.Equals, 0)

	_, err = e.run(c, "pets", "get", "abc")
	c.Assert(err, qt.ErrorMatches, `invalid pet id "abc"`)

	_, err = e.run(c, "pets", "get", "999")
	c.Assert(errors.Is(err, api.ErrNotFound), qt.IsTrue)
}

// ---------------------------------------------------------------------------
// Videos
// ---------------------------------------------------------------------------

func TestVideos_CreateAndWatch(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c)

	pet := e.srv.AddPet("Bori")
	jobID := pet.ID + 1
	e.srv.SetProgress(jobID, false,
		models.ProgressUpdate{Percent: 40, Status: models.JobProcessing, Message: "rendering"},
		models.ProgressUpdate{Percent: 100, Status: models.JobCompleted},
	)

	out := e.mustRun(c, "videos", "create", fmt.Sprint(pet.ID), "walking", "--watch")
	c.Assert(out, qt.Contains, fmt.Sprintf("Job %d: walking PENDING 0%%", jobID))
	c.Assert(out, qt.Contains, "[ 40%] PROCESSING rendering")
	c.Assert(out, qt.Contains, "Video ready.")
	c.Assert(e.srv.WaitNoStreams(5*time.Second), qt.IsTrue)

	out = e.mustRun(c, "videos", "status", fmt.Sprint(jobID), "--jsonpath", "$.status")
	c.Assert(out, qt.Equals, "PENDING\n")

	c.Assert(e.mustRun(c, "videos", "list", fmt.Sprint(pet.ID)), qt.Equals, "No videos yet.\n")
}

func TestVideos_WatchFailedJob(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c)

	pet := e.srv.AddPet("Bori")
	e.mustRun(c, "videos", "create", fmt.Sprint(pet.ID), "feeding")
	jobID := pet.ID + 1
	e.srv.SetProgress(jobID, false, models.ProgressUpdate{Percent: 10, Status: models.JobFailed, Message: "quota"})

	out, err := e.run(c, "videos", "watch", fmt.Sprint(jobID))
	c.Assert(err, qt.ErrorMatches, fmt.Sprintf("job %d: .*", jobID))
	c.Assert(out, qt.Contains, "Video generation failed")
}

func TestVideos_UnknownInteraction(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c)

	pet := e.srv.AddPet("Bori")
	_, err := e.run(c, "videos", "create", fmt.Sprint(pet.ID), "flying")
	c.Assert(errors.Is(err, models.ErrInvalidInput), qt.IsTrue)
	c.Assert(e.srv.Calls("POST /videos/pets/{id}"), qt.Equals, 0)
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

func TestMessages(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c)

	pet := e.srv.AddPet("Nabi")
	msg := e.srv.AddMessage(pet.ID, models.SenderPet, "I miss you")
	id := fmt.Sprint(pet.ID)

	c.Assert(e.mustRun(c, "messages", "unread", id), qt.Equals, "Unread messages: 1\n")

	out := e.mustRun(c, "messages", "send", id, "hello", "Nabi")
	c.Assert(out, qt.Contains, "me (")
	c.Assert(out, qt.Contains, ": hello Nabi")

	out = e.mustRun(c, "messages", "list", id)
	c.Assert(out, qt.Contains, "pet (")
	c.Assert(out, qt.Contains, "*: I miss you")

	readArgs := []string{"messages", "read", fmt.Sprint(msg.ID)}
	c.Assert(e.mustRun(c, readArgs...), qt.Equals, fmt.Sprintf("Marked message %d as read\n", msg.ID))
	c.Assert(e.mustRun(c, readArgs...), qt.Equals, fmt.Sprintf("Message %d was already read\n", msg.ID))
	c.Assert(e.srv.Calls("PUT /messages/{id}/read"), qt.Equals, 1)

	c.Assert(e.mustRun(c, "messages", "unread", id, "-o", "json"), checkers.JSONPathEquals("$.unreadCount"), float64(0))
}

// ---------------------------------------------------------------------------
// Diary
// ---------------------------------------------------------------------------

func TestDiary(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c)

	pet := e.srv.AddPet("Bori")
	entry := e.srv.AddDiary(pet.ID, "Beach day", "I chased the waves.", models.MoodPlayful)
	id := fmt.Sprint(pet.ID)

	out := e.mustRun(c, "diary", "list", id)
	c.Assert(out, qt.Contains, "Playful days  Beach day *")

	out = e.mustRun(c, "diary", "create", id)
	c.Assert(out, qt.Contains, "Sleepy days")

	out = e.mustRun(c, "diary", "get", fmt.Sprint(entry.ID))
	c.Assert(out, qt.Contains, "I chased the waves.")

	c.Assert(e.mustRun(c, "diary", "unread", id), qt.Equals, "Unread diary entries: 2\n")
	c.Assert(e.mustRun(c, "diary", "read", fmt.Sprint(entry.ID)), qt.Equals, fmt.Sprintf("Marked diary %d as read\n", entry.ID))

	out = e.mustRun(c, "diary", "search", "waves")
	c.Assert(out, qt.Contains, "Beach day")
	c.Assert(e.mustRun(c, "diary", "search", "volcano"), qt.Equals, "No matching diary entries.\n")

	dir := c.TempDir()
	out = e.mustRun(c, "diary", "export", id, "--dir", dir)
	path := filepath.Join(dir, "bori-diary.md")
	c.Assert(out, qt.Equals, "Exported: "+path+"\n")
	data, err := os.ReadFile(path)
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Contains, "# Bori's Diary")
	c.Assert(string(data), qt.Contains, "### Beach day")
}

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

func TestConfig(t *testing.T) {
	c := qt.New(t)
	e := newEnv(c)

	out := e.mustRun(c, "config", "init")
	c.Assert(out, qt.Contains, "Created "+filepath.Join(e.home, "config.yaml"))

	out = e.mustRun(c, "config", "init")
	c.Assert(out, qt.Contains, "Use --force to overwrite.")

	out = e.mustRun(c, "config", "set-server", "https://everwalk.example/api/")
	c.Assert(out, qt.Equals, "Server set to https://everwalk.example/api\n")

	_, err := e.run(c, "config", "set-server", "ftp://nope")
	c.Assert(err, qt.ErrorMatches, `invalid server URL .*`)

	e.mustRun(c, "auth", "register", "--email", "mina@example.com", "--password", "pw")
	out = e.mustRun(c, "config", "show")
	c.Assert(out, qt.Contains, "home_source: flag")
	c.Assert(out, qt.Contains, "access_token: <redacted>")
	c.Assert(out, qt.Contains, "signed_in: true")
	c.Assert(out, qt.Not(qt.Contains), "eyJ")
}

// ---------------------------------------------------------------------------
// Hint
// ---------------------------------------------------------------------------

func TestHint(t *testing.T) {
	c := qt.New(t)

	c.Assert(rootcmd.Hint(session.ErrNotAuthenticated), qt.Contains, "auth login")
	c.Assert(rootcmd.Hint(&api.Error{StatusCode: 401}), qt.Contains, "auth login")
	c.Assert(rootcmd.Hint(fmt.Errorf("x: %w", api.ErrUnreachable)), qt.Contains, "config show")
	c.Assert(rootcmd.Hint(errors.New("other")), qt.Equals, "")
}
