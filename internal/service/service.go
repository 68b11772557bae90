// Package service implements the EverWalk data-access layer that wires
// together configuration, the REST client, the query cache, the session and
// the local database.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-ports/everwalk/internal/api"
	"github.com/go-ports/everwalk/internal/config"
	"github.com/go-ports/everwalk/internal/db"
	"github.com/go-ports/everwalk/internal/markdown"
	"github.com/go-ports/everwalk/internal/models"
	"github.com/go-ports/everwalk/internal/progress"
	"github.com/go-ports/everwalk/internal/querycache"
	"github.com/go-ports/everwalk/internal/session"
)

// CacheStaleTime bounds how long a cached query is served without refetching.
const CacheStaleTime = 30 * time.Second

// Service orchestrates all client operations.
type Service struct {
	Home    string
	Config  *config.ClientConfig
	API     *api.Client
	Session *session.Manager

	database *db.DB
	cache    *querycache.Cache
	streams  *progress.Registry
	now      func() time.Time
}

// Option configures a Service.
type Option func(*options)

type options struct {
	baseURL   string
	staleTime time.Duration
	apiOpts   []api.Option
}

// WithBaseURL overrides the configured backend URL.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithStaleTime overrides CacheStaleTime. Zero caches until invalidated.
func WithStaleTime(d time.Duration) Option {
	return func(o *options) { o.staleTime = d }
}

// WithAPIOptions passes extra options to the REST client.
func WithAPIOptions(opts ...api.Option) Option {
	return func(o *options) { o.apiOpts = append(o.apiOpts, opts...) }
}

// New initialises a Service rooted at home.
// If home is empty it is resolved via config.GetHome.
func New(home string, opts ...Option) (*Service, error) {
	o := options{staleTime: CacheStaleTime}
	for _, fn := range opts {
		fn(&o)
	}

	if home == "" {
		home = config.GetHome()
	}
	if err := os.MkdirAll(home, 0o700); err != nil {
		return nil, fmt.Errorf("service.New: create home: %w", err)
	}

	cfg, err := config.Load(filepath.Join(home, "config.yaml"))
	if err != nil {
		return nil, fmt.Errorf("service.New: load config: %w", err)
	}
	if o.baseURL != "" {
		cfg.Server.BaseURL = o.baseURL
	}

	database, err := db.Open(filepath.Join(home, db.FileName))
	if err != nil {
		return nil, fmt.Errorf("service.New: open db: %w", err)
	}

	sess := session.NewManager(database)
	apiOpts := append([]api.Option{
		api.WithTimeout(cfg.Server.Timeout),
		api.WithTokenSource(sess.Token),
	}, o.apiOpts...)
	client := api.New(cfg.Server.BaseURL, apiOpts...)

	return &Service{
		Home:     home,
		Config:   cfg,
		API:      client,
		Session:  sess,
		database: database,
		cache:    querycache.New(querycache.WithStaleTime(o.staleTime)),
		streams:  progress.NewRegistry(client),
		now:      time.Now,
	}, nil
}

// Close releases all resources held by the service, including any progress
// stream still open.
func (s *Service) Close() error {
	s.streams.CloseAll()
	return s.database.Close()
}

// ---------------------------------------------------------------------------
// Cache keys
// ---------------------------------------------------------------------------

func keyPets() querycache.Key                { return querycache.K("pets") }
func keyPet(id int64) querycache.Key         { return querycache.K("pets", id) }
func keyVideos(petID int64) querycache.Key   { return querycache.K("videos", petID) }
func keyMessages(petID int64) querycache.Key { return querycache.K("messages", petID) }
func keyDiaries(petID int64) querycache.Key  { return querycache.K("diaries", petID) }
func keyDiary(id int64) querycache.Key       { return querycache.K("diary", id) }

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

// Register creates an account and stores its session.
func (s *Service) Register(ctx context.Context, email, password, name string) (*models.User, error) {
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}
	auth, err := s.API.Register(ctx, strings.TrimSpace(email), password, strings.TrimSpace(name))
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	return s.startSession(ctx, auth)
}

// Login signs in and stores the session.
func (s *Service) Login(ctx context.Context, email, password string) (*models.User, error) {
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}
	auth, err := s.API.Login(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return s.startSession(ctx, auth)
}

// Logout forgets the stored session, every cached query, and the read marks
// and archived diary entries of the signed-out account.
func (s *Service) Logout(ctx context.Context) error {
	owner, err := s.owner(ctx)
	if err != nil {
		return err
	}
	if err := s.Session.Clear(ctx); err != nil {
		return err
	}
	s.cache.Invalidate(querycache.K())
	if err := s.database.ForgetOwner(ctx, owner); err != nil {
		return fmt.Errorf("service.Logout: %w", err)
	}
	return nil
}

// WhoAmI describes the stored session.
type WhoAmI struct {
	User      *models.User `json:"user,omitempty"`
	Subject   string       `json:"subject,omitempty"`
	ExpiresAt *time.Time   `json:"expiresAt,omitempty"`
	Expired   bool         `json:"expired"`
}

// Whoami returns the current session or session.ErrNotAuthenticated.
func (s *Service) Whoami(ctx context.Context) (*WhoAmI, error) {
	sess, err := s.Session.Require(ctx)
	if err != nil {
		return nil, err
	}
	claims, err := session.Claims(sess.AccessToken)
	if err != nil {
		return nil, err
	}
	out := &WhoAmI{User: sess.User, Subject: claims.Subject, Expired: claims.Expired(s.now())}
	if !claims.ExpiresAt.IsZero() {
		exp := claims.ExpiresAt
		out.ExpiresAt = &exp
	}
	return out, nil
}

func (s *Service) startSession(ctx context.Context, auth *models.AuthResponse) (*models.User, error) {
	if err := s.Session.Save(ctx, auth); err != nil {
		return nil, err
	}
	s.cache.Invalidate(querycache.K())
	u := auth.User
	return &u, nil
}

func validateCredentials(email, password string) error {
	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("%w: email is required", models.ErrInvalidInput)
	}
	if password == "" {
		return fmt.Errorf("%w: password is required", models.ErrInvalidInput)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Pets
// ---------------------------------------------------------------------------

// ListPets returns the user's pets. When the backend cannot be reached the
// failure is logged and an empty list is returned.
func (s *Service) ListPets(ctx context.Context) ([]models.Pet, error) {
	pets, err := querycache.Get(ctx, s.cache, keyPets(), s.API.ListPets)
	if errors.Is(err, api.ErrUnreachable) {
		slog.Warn("pets: backend unreachable, showing empty list", "err", err)
		return make([]models.Pet, 0), nil
	}
	if err != nil {
		return nil, err
	}
	return pets, nil
}

// GetPet returns one pet.
func (s *Service) GetPet(ctx context.Context, id int64) (*models.Pet, error) {
	return querycache.Get(ctx, s.cache, keyPet(id), func(ctx context.Context) (*models.Pet, error) {
		return s.API.GetPet(ctx, id)
	})
}

// CreatePet validates in and registers the pet. Invalid input is rejected
// without contacting the backend.
func (s *Service) CreatePet(ctx context.Context, in *models.CreatePetInput) (*models.Pet, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	clean := *in
	clean.Name = strings.TrimSpace(in.Name)
	clean.ImageURLs = make([]string, 0, len(in.ImageURLs))
	for _, u := range in.ImageURLs {
		if u = strings.TrimSpace(u); u != "" {
			clean.ImageURLs = append(clean.ImageURLs, u)
		}
	}

	pet, err := s.API.CreatePet(ctx, &clean)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(keyPets())
	return pet, nil
}

// DeletePet removes a pet and every query that belonged to it.
func (s *Service) DeletePet(ctx context.Context, id int64) error {
	if err := s.API.DeletePet(ctx, id); err != nil {
		return err
	}
	s.cache.Invalidate(keyPets())
	s.cache.Invalidate(keyVideos(id))
	s.cache.Invalidate(keyMessages(id))
	s.cache.Invalidate(keyDiaries(id))
	return nil
}

// ---------------------------------------------------------------------------
// Videos
// ---------------------------------------------------------------------------

// ListVideos returns the finished videos of a pet.
func (s *Service) ListVideos(ctx context.Context, petID int64) ([]models.Video, error) {
	return querycache.Get(ctx, s.cache, keyVideos(petID), func(ctx context.Context) ([]models.Video, error) {
		return s.API.ListVideos(ctx, petID)
	})
}

// CreateVideo starts a generation job for petID.
func (s *Service) CreateVideo(ctx context.Context, petID int64, interaction models.InteractionType) (*models.VideoJob, error) {
	it, err := models.ParseInteractionType(string(interaction))
	if err != nil {
		return nil, err
	}
	job, err := s.API.CreateVideo(ctx, petID, it)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(keyVideos(petID))
	return job, nil
}

// JobStatus polls a job once. It is never cached.
func (s *Service) JobStatus(ctx context.Context, jobID int64) (*models.VideoJob, error) {
	return s.API.JobStatus(ctx, jobID)
}

// WatchProgress opens the progress stream of jobID. A job can be watched by
// one subscription at a time. Once the stream is released the video list of
// petID (if non-zero) is invalidated.
func (s *Service) WatchProgress(ctx context.Context, jobID, petID int64) (*progress.Subscription, error) {
	sub, err := s.streams.Subscribe(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if petID != 0 {
		go func() {
			<-sub.Done()
			s.cache.Invalidate(keyVideos(petID))
		}()
	}
	return sub, nil
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// ListMessages returns the conversation with a pet.
func (s *Service) ListMessages(ctx context.Context, petID int64) ([]models.Message, error) {
	return querycache.Get(ctx, s.cache, keyMessages(petID), func(ctx context.Context) ([]models.Message, error) {
		return s.API.ListMessages(ctx, petID)
	})
}

// SendMessage posts content to a pet. Blank content is ignored: no request
// is made and (nil, nil) is returned.
func (s *Service) SendMessage(ctx context.Context, petID int64, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}
	msg, err := s.API.SendMessage(ctx, petID, content)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(keyMessages(petID))
	return msg, nil
}

// MarkMessageRead flags a message as read. It reports false without a
// request when the message was already marked from this client.
func (s *Service) MarkMessageRead(ctx context.Context, id int64) (bool, error) {
	return s.markRead(ctx, db.ReadMessage, id, s.API.MarkMessageRead, querycache.K("messages"))
}

// UnreadMessages returns the number of unread pet messages.
func (s *Service) UnreadMessages(ctx context.Context, petID int64) (int, error) {
	return s.API.UnreadMessageCount(ctx, petID)
}

// ---------------------------------------------------------------------------
// Diaries
// ---------------------------------------------------------------------------

// ListDiary returns a pet's diary and archives it locally. When the backend
// cannot be reached the archived copy is returned instead, if there is one.
func (s *Service) ListDiary(ctx context.Context, petID int64) ([]models.DiaryEntry, error) {
	entries, err := querycache.Get(ctx, s.cache, keyDiaries(petID), func(ctx context.Context) ([]models.DiaryEntry, error) {
		entries, err := s.API.ListDiaries(ctx, petID)
		if err != nil {
			return nil, err
		}
		s.archive(ctx, entries...)
		return entries, nil
	})
	if errors.Is(err, api.ErrUnreachable) {
		archived, aerr := s.archived(ctx, petID)
		if aerr == nil && len(archived) > 0 {
			slog.Warn("diary: backend unreachable, showing archived entries", "pet_id", petID, "err", err)
			return archived, nil
		}
	}
	return entries, err
}

// GetDiary returns one diary entry.
func (s *Service) GetDiary(ctx context.Context, id int64) (*models.DiaryEntry, error) {
	return querycache.Get(ctx, s.cache, keyDiary(id), func(ctx context.Context) (*models.DiaryEntry, error) {
		e, err := s.API.GetDiary(ctx, id)
		if err != nil {
			return nil, err
		}
		s.archive(ctx, *e)
		return e, nil
	})
}

// CreateDiary asks the backend to write a new entry for petID.
func (s *Service) CreateDiary(ctx context.Context, petID int64) (*models.DiaryEntry, error) {
	e, err := s.API.CreateDiary(ctx, petID)
	if err != nil {
		return nil, err
	}
	s.archive(ctx, *e)
	s.cache.Invalidate(keyDiaries(petID))
	return e, nil
}

// MarkDiaryRead flags a diary entry as read. It reports false without a
// request when the entry was already marked from this client.
func (s *Service) MarkDiaryRead(ctx context.Context, id int64) (bool, error) {
	return s.markRead(ctx, db.ReadDiary, id, s.API.MarkDiaryRead, querycache.K("diaries"))
}

// UnreadDiaries returns the number of unread diary entries.
func (s *Service) UnreadDiaries(ctx context.Context, petID int64) (int, error) {
	return s.API.UnreadDiaryCount(ctx, petID)
}

// SearchDiary searches the local archive. petID 0 searches every pet.
func (s *Service) SearchDiary(ctx context.Context, query string, petID int64, limit int) ([]models.DiaryEntry, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: search query is required", models.ErrInvalidInput)
	}
	owner, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	return s.database.SearchDiary(ctx, owner, query, petID, limit)
}

// ExportDiary writes a pet's diary to dir (default <home>/exports) and
// returns the file path.
func (s *Service) ExportDiary(ctx context.Context, petID int64, dir string) (string, error) {
	pet, err := s.GetPet(ctx, petID)
	if err != nil {
		return "", err
	}
	entries, err := s.ListDiary(ctx, petID)
	if err != nil {
		return "", err
	}
	if dir == "" {
		dir = filepath.Join(s.Home, "exports")
	}
	return markdown.WriteDiary(dir, *pet, entries, s.now())
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

func (s *Service) markRead(ctx context.Context, kind db.ReadKind, id int64, remote func(context.Context, int64) error, prefix querycache.Key) (bool, error) {
	owner, err := s.owner(ctx)
	if err != nil {
		return false, err
	}
	done, err := s.database.IsMarkedRead(ctx, owner, kind, id)
	if err != nil {
		return false, err
	}
	if done {
		return false, nil
	}
	if err := remote(ctx, id); err != nil {
		return false, err
	}
	if _, err := s.database.MarkRead(ctx, owner, kind, id); err != nil {
		slog.Warn("read mark not recorded", "kind", kind, "id", id, "err", err)
	}
	s.cache.Invalidate(prefix)
	if kind == db.ReadDiary {
		s.cache.Invalidate(keyDiary(id))
	}
	return true, nil
}

func (s *Service) archive(ctx context.Context, entries ...models.DiaryEntry) {
	owner, err := s.owner(ctx)
	if err == nil {
		err = s.database.ArchiveDiary(ctx, owner, entries)
	}
	if err != nil {
		slog.Warn("diary archive failed", "err", err)
	}
}

func (s *Service) archived(ctx context.Context, petID int64) ([]models.DiaryEntry, error) {
	owner, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	return s.database.ListArchivedDiary(ctx, owner, petID)
}

// owner scopes local state to the configured backend and the signed-in
// account. Signed-out state belongs to user id 0.
func (s *Service) owner(ctx context.Context) (db.Owner, error) {
	sess, err := s.Session.Current(ctx)
	if err != nil {
		return "", err
	}
	var userID int64
	if sess.User != nil {
		userID = sess.User.ID
	}
	return db.OwnerOf(s.Config.Server.BaseURL, userID), nil
}
