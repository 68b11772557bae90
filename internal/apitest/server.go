// Package apitest provides an in-memory EverWalk backend for tests.
//
// The server speaks the same REST/SSE contract as the real backend, records
// how often each route was hit so tests can assert that client-side checks
// short-circuit network calls, and tracks open progress streams so tests can
// assert that subscriptions release their connection.
package apitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/go-ports/everwalk/internal/models"
)

// Secret signs the access tokens issued by the fake backend.
var Secret = []byte("apitest-secret")

type progressScript struct {
	raw  string
	hold bool
}

// Server is a fake EverWalk backend.
type Server struct {
	*httptest.Server

	// RequireAuth rejects protected routes without a token issued by this server.
	RequireAuth bool

	mu       sync.Mutex
	nextID   int64
	users    map[string]models.User // by email
	tokens   map[string]bool
	pets     map[int64]*models.Pet
	videos   map[int64][]models.Video
	jobs     map[int64]*models.VideoJob
	messages map[int64][]models.Message
	diaries  map[int64][]models.DiaryEntry
	progress map[int64]progressScript
	calls    map[string]int
	failNext map[string]int

	activeStreams atomic.Int32
	openedStreams atomic.Int32
}

// New starts a fake backend and registers its shutdown on tb.
func New(tb testing.TB) *Server {
	tb.Helper()
	s := &Server{
		nextID:   100,
		users:    make(map[string]models.User),
		tokens:   make(map[string]bool),
		pets:     make(map[int64]*models.Pet),
		videos:   make(map[int64][]models.Video),
		jobs:     make(map[int64]*models.VideoJob),
		messages: make(map[int64][]models.Message),
		diaries:  make(map[int64][]models.DiaryEntry),
		progress: make(map[int64]progressScript),
		calls:    make(map[string]int),
		failNext: make(map[string]int),
	}
	s.Server = httptest.NewServer(s.routes())
	tb.Cleanup(func() {
		s.CloseClientConnections()
		s.Close()
	})
	return s
}

// BaseURL is the API root to hand to api.New.
func (s *Server) BaseURL() string { return s.URL + "/api" }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.track("POST /auth/register", s.register))
		r.Post("/auth/login", s.track("POST /auth/login", s.login))

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/pets", s.track("GET /pets", s.listPets))
			r.Post("/pets", s.track("POST /pets", s.createPet))
			r.Get("/pets/{id}", s.track("GET /pets/{id}", s.getPet))
			r.Delete("/pets/{id}", s.track("DELETE /pets/{id}", s.deletePet))

			r.Get("/videos/pets/{id}", s.track("GET /videos/pets/{id}", s.listVideos))
			r.Post("/videos/pets/{id}", s.track("POST /videos/pets/{id}", s.createVideo))
			r.Get("/videos/jobs/{id}", s.track("GET /videos/jobs/{id}", s.jobStatus))
			r.Get("/videos/jobs/{id}/progress", s.track("GET /videos/jobs/{id}/progress", s.streamProgress))

			r.Get("/messages/pets/{id}", s.track("GET /messages/pets/{id}", s.listMessages))
			r.Post("/messages/pets/{id}", s.track("POST /messages/pets/{id}", s.sendMessage))
			r.Get("/messages/pets/{id}/unread-count", s.track("GET /messages/pets/{id}/unread-count", s.unreadMessages))
			r.Put("/messages/{id}/read", s.track("PUT /messages/{id}/read", s.markMessageRead))

			r.Get("/diaries/pets/{id}", s.track("GET /diaries/pets/{id}", s.listDiaries))
			r.Post("/diaries/pets/{id}", s.track("POST /diaries/pets/{id}", s.createDiary))
			r.Get("/diaries/pets/{id}/unread-count", s.track("GET /diaries/pets/{id}/unread-count", s.unreadDiaries))
			r.Get("/diaries/{id}", s.track("GET /diaries/{id}", s.getDiary))
			r.Put("/diaries/{id}/read", s.track("PUT /diaries/{id}/read", s.markDiaryRead))
		})
	})
	return r
}

// ---------------------------------------------------------------------------
// Test controls
// ---------------------------------------------------------------------------

// Calls returns how many times route (e.g. "POST /pets") was hit.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// TotalCalls returns the number of requests served on all routes.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.calls {
		n += v
	}
	return n
}

// FailNext makes the next n hits of route answer 500.
func (s *Server) FailNext(route string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[route] = n
}

// ActiveStreams returns the number of progress streams still connected.
func (s *Server) ActiveStreams() int { return int(s.activeStreams.Load()) }

// OpenedStreams returns the number of progress streams ever opened.
func (s *Server) OpenedStreams() int { return int(s.openedStreams.Load()) }

// WaitNoStreams polls until no progress stream is connected or timeout passes.
func (s *Server) WaitNoStreams(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.ActiveStreams() == 0 {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return s.ActiveStreams() == 0
}

// SetProgress scripts the progress stream of jobID. When hold is true the
// server keeps the connection open after the last frame until the client
// goes away.
func (s *Server) SetProgress(jobID int64, hold bool, updates ...models.ProgressUpdate) {
	var sb strings.Builder
	for _, u := range updates {
		b, _ := json.Marshal(u)
		sb.WriteString("event: progress\ndata: ")
		sb.Write(b)
		sb.WriteString("\n\n")
	}
	s.SetRawProgress(jobID, hold, sb.String())
}

// SetRawProgress scripts the progress stream of jobID with a raw event-stream body.
func (s *Server) SetRawProgress(jobID int64, hold bool, raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[jobID] = progressScript{raw: raw, hold: hold}
}

// AddPet stores a pet directly and returns it.
func (s *Server) AddPet(name string) models.Pet {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &models.Pet{
		ID:        s.id(),
		Name:      name,
		IsActive:  true,
		ImageURLs: []string{"https://img.test/" + models.Slug(name) + ".jpg"},
		CreatedAt: now(),
	}
	p.PrimaryImageURL = p.ImageURLs[0]
	s.pets[p.ID] = p
	return *p
}

// AddDiary stores a diary entry directly and returns it.
func (s *Server) AddDiary(petID int64, title, content string, mood models.Mood) models.DiaryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := models.DiaryEntry{
		ID:        s.id(),
		PetID:     petID,
		Title:     title,
		Content:   content,
		Mood:      mood,
		CreatedAt: now(),
	}
	if p, ok := s.pets[petID]; ok {
		d.PetName = p.Name
	}
	s.diaries[petID] = append(s.diaries[petID], d)
	return d
}

// AddMessage stores a message directly and returns it.
func (s *Server) AddMessage(petID int64, sender models.SenderType, content string) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := models.Message{ID: s.id(), PetID: petID, SenderType: sender, Content: content, CreatedAt: now()}
	s.messages[petID] = append(s.messages[petID], m)
	return m
}

// IssueToken signs an access token for subject expiring after ttl.
func IssueToken(subject string, ttl time.Duration) string {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(Secret)
	if err != nil {
		panic("apitest: sign token: " + err.Error())
	}
	return tok
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func (s *Server) track(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[route]++
		fail := s.failNext[route] > 0
		if fail {
			s.failNext[route]--
		}
		s.mu.Unlock()
		if fail {
			writeError(w, http.StatusInternalServerError, "injected failure")
			return
		}
		h(w, r)
	}
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.RequireAuth {
			next.ServeHTTP(w, r)
			return
		}
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		ok := s.tokens[tok]
		s.mu.Unlock()
		if !ok {
			writeError(w, http.StatusUnauthorized, "인증이 필요합니다")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var in struct{ Email, Password, Name string }
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Email == "" || in.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	s.mu.Lock()
	if _, exists := s.users[in.Email]; exists {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "이미 가입된 이메일입니다")
		return
	}
	u := models.User{ID: s.id(), Email: in.Email, Name: in.Name, Provider: models.ProviderLocal, CreatedAt: now()}
	s.users[in.Email] = u
	resp := s.issue(u)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var in struct{ Email, Password string }
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.mu.Lock()
	u, ok := s.users[in.Email]
	if !ok || in.Password == "wrong" {
		s.mu.Unlock()
		writeError(w, http.StatusUnauthorized, "이메일 또는 비밀번호가 올바르지 않습니다")
		return
	}
	resp := s.issue(u)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listPets(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := make([]models.Pet, 0, len(s.pets))
	for _, p := range s.pets {
		out = append(out, *p)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createPet(w http.ResponseWriter, r *http.Request) {
	var in models.CreatePetInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if strings.TrimSpace(in.Name) == "" || len(in.ImageURLs) == 0 {
		writeError(w, http.StatusBadRequest, "name and imageUrls are required")
		return
	}
	s.mu.Lock()
	p := &models.Pet{
		ID:              s.id(),
		Name:            in.Name,
		Species:         in.Species,
		MemorialDate:    in.MemorialDate,
		ImageURLs:       in.ImageURLs,
		PrimaryImageURL: in.ImageURLs[0],
		AIDescription:   in.Name + " is a gentle soul who loved sunny afternoons.",
		IsActive:        true,
		CreatedAt:       now(),
	}
	s.pets[p.ID] = p
	out := *p
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getPet(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	p, found := s.pets[id]
	var out models.Pet
	if found {
		out = *p
	}
	s.mu.Unlock()
	if !found {
		writeError(w, http.StatusNotFound, "반려동물을 찾을 수 없습니다")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deletePet(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	_, found := s.pets[id]
	delete(s.pets, id)
	s.mu.Unlock()
	if !found {
		writeError(w, http.StatusNotFound, "반려동물을 찾을 수 없습니다")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listVideos(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	out := append(make([]models.Video, 0), s.videos[id]...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createVideo(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var in struct {
		InteractionType models.InteractionType `json:"interactionType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.InteractionType == "" {
		writeError(w, http.StatusBadRequest, "interactionType is required")
		return
	}
	s.mu.Lock()
	if _, found := s.pets[id]; !found {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "반려동물을 찾을 수 없습니다")
		return
	}
	job := &models.VideoJob{
		ID:              s.id(),
		PetID:           id,
		InteractionType: in.InteractionType,
		Status:          models.JobPending,
		CreatedAt:       now(),
	}
	s.jobs[job.ID] = job
	out := *job
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	job, found := s.jobs[id]
	var out models.VideoJob
	if found {
		out = *job
	}
	s.mu.Unlock()
	if !found {
		writeError(w, http.StatusNotFound, "작업을 찾을 수 없습니다")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	script, found := s.progress[id]
	s.mu.Unlock()
	if !found {
		writeError(w, http.StatusNotFound, "작업을 찾을 수 없습니다")
		return
	}

	s.openedStreams.Add(1)
	s.activeStreams.Add(1)
	defer s.activeStreams.Add(-1)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(script.raw))
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	if script.hold {
		<-r.Context().Done()
	}
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	out := append(make([]models.Message, 0), s.messages[id]...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var in struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || strings.TrimSpace(in.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	s.mu.Lock()
	m := models.Message{ID: s.id(), PetID: id, SenderType: models.SenderUser, Content: in.Content, IsRead: true, CreatedAt: now()}
	s.messages[id] = append(s.messages[id], m)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) unreadMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	n := 0
	for _, m := range s.messages[id] {
		if !m.IsRead && m.SenderType == models.SenderPet {
			n++
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]int{"unreadCount": n})
}

func (s *Server) markMessageRead(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for petID, list := range s.messages {
		for i := range list {
			if list[i].ID == id {
				s.messages[petID][i].IsRead = true
				w.WriteHeader(http.StatusOK)
				return
			}
		}
	}
	writeError(w, http.StatusNotFound, "메시지를 찾을 수 없습니다")
}

func (s *Server) listDiaries(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	out := append(make([]models.DiaryEntry, 0), s.diaries[id]...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createDiary(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	p, found := s.pets[id]
	if !found {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "반려동물을 찾을 수 없습니다")
		return
	}
	d := models.DiaryEntry{
		ID:        s.id(),
		PetID:     id,
		PetName:   p.Name,
		Title:     "A sunny nap",
		Content:   "Today I dreamed of the park and of you.",
		Mood:      models.MoodSleepy,
		CreatedAt: now(),
	}
	s.diaries[id] = append(s.diaries[id], d)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) unreadDiaries(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	n := 0
	for _, d := range s.diaries[id] {
		if !d.IsRead {
			n++
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]int{"unreadCount": n})
}

func (s *Server) getDiary(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, list := range s.diaries {
		for _, d := range list {
			if d.ID == id {
				writeJSON(w, http.StatusOK, d)
				return
			}
		}
	}
	writeError(w, http.StatusNotFound, "일기를 찾을 수 없습니다")
}

func (s *Server) markDiaryRead(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for petID, list := range s.diaries {
		for i := range list {
			if list[i].ID == id {
				s.diaries[petID][i].IsRead = true
				w.WriteHeader(http.StatusOK)
				return
			}
		}
	}
	writeError(w, http.StatusNotFound, "일기를 찾을 수 없습니다")
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// id must be called with s.mu held.
func (s *Server) id() int64 {
	s.nextID++
	return s.nextID
}

// issue must be called with s.mu held.
func (s *Server) issue(u models.User) models.AuthResponse {
	access := IssueToken(strconv.FormatInt(u.ID, 10), time.Hour)
	s.tokens[access] = true
	return models.AuthResponse{
		AccessToken:  access,
		RefreshToken: fmt.Sprintf("refresh-%d-%d", u.ID, s.id()),
		TokenType:    "Bearer",
		User:         u,
	}
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{
		Timestamp: now(),
		Status:    status,
		Error:     http.StatusText(status),
		Message:   msg,
	})
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

