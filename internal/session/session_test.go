package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/go-ports/everwalk/internal/apitest"
	"github.com/go-ports/everwalk/internal/models"
	"github.com/go-ports/everwalk/internal/session"
)

func authResponse() *models.AuthResponse {
	return &models.AuthResponse{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		User:         models.User{ID: 7, Email: "mina@example.com", Name: "Mina", Provider: models.ProviderLocal},
	}
}

func TestManager_SaveLoadClear(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	store := session.NewMemoryStore()

	m := session.NewManager(store)
	s, err := m.Current(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(s.IsAuthenticated(), qt.IsFalse)

	c.Assert(m.Save(ctx, authResponse()), qt.IsNil)

	// A second manager over the same store sees the persisted session.
	s, err = session.NewManager(store).Load(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(s.IsAuthenticated(), qt.IsTrue)
	c.Assert(s.AccessToken, qt.Equals, "access-1")
	c.Assert(s.RefreshToken, qt.Equals, "refresh-1")
	c.Assert(s.User, qt.IsNotNil)
	c.Assert(s.User.Email, qt.Equals, "mina@example.com")

	tok, err := m.Token(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(tok, qt.Equals, "access-1")

	c.Assert(m.Clear(ctx), qt.IsNil)
	tok, err = m.Token(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(tok, qt.Equals, "")

	_, err = store.Get(ctx, session.KeyAccessToken)
	c.Assert(errors.Is(err, session.ErrNotFound), qt.IsTrue)
}

func TestManager_SaveRejectsEmptyToken(t *testing.T) {
	c := qt.New(t)
	m := session.NewManager(session.NewMemoryStore())

	err := m.Save(context.Background(), &models.AuthResponse{})
	c.Assert(errors.Is(err, models.ErrInvalidInput), qt.IsTrue)

	err = m.Save(context.Background(), nil)
	c.Assert(errors.Is(err, models.ErrInvalidInput), qt.IsTrue)
}

func TestManager_Require(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	m := session.NewManager(session.NewMemoryStore())

	_, err := m.Require(ctx)
	c.Assert(errors.Is(err, session.ErrNotAuthenticated), qt.IsTrue)

	c.Assert(m.Save(ctx, authResponse()), qt.IsNil)
	s, err := m.Require(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(s.User.Name, qt.Equals, "Mina")
}

func TestManager_LoadCorruptUser(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	store := session.NewMemoryStore()
	c.Assert(store.Set(ctx, session.KeyAccessToken, "tok"), qt.IsNil)
	c.Assert(store.Set(ctx, session.KeyUser, "{not json"), qt.IsNil)

	_, err := session.NewManager(store).Load(ctx)
	c.Assert(err, qt.ErrorMatches, "session.Load: decode user: .*")
}

func TestClaims(t *testing.T) {
	c := qt.New(t)

	c.Run("jwt with subject and expiry", func(c *qt.C) {
		tok := apitest.IssueToken("7", time.Hour)
		claims, err := session.Claims(tok)
		c.Assert(err, qt.IsNil)
		c.Assert(claims.Subject, qt.Equals, "7")
		c.Assert(claims.ExpiresAt.After(time.Now()), qt.IsTrue)
		c.Assert(claims.Expired(time.Now()), qt.IsFalse)
		c.Assert(claims.Expired(time.Now().Add(2*time.Hour)), qt.IsTrue)
	})

	c.Run("opaque token has no expiry", func(c *qt.C) {
		claims, err := session.Claims("opaque-token")
		c.Assert(err, qt.IsNil)
		c.Assert(claims.ExpiresAt.IsZero(), qt.IsTrue)
		c.Assert(claims.Expired(time.Now()), qt.IsFalse)
	})

	c.Run("empty token", func(c *qt.C) {
		_, err := session.Claims("")
		c.Assert(errors.Is(err, session.ErrNotAuthenticated), qt.IsTrue)
	})
}
