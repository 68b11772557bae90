package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/go-ports/everwalk/internal/models"
)

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

// Register creates an account and returns its first token pair.
func (c *Client) Register(ctx context.Context, email, password, name string) (*models.AuthResponse, error) {
	body := map[string]string{"email": email, "password": password, "name": name}
	var out models.AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/register", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (*models.AuthResponse, error) {
	body := map[string]string{"email": email, "password": password}
	var out models.AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ---------------------------------------------------------------------------
// Pets
// ---------------------------------------------------------------------------

// ListPets returns every pet of the current user.
func (c *Client) ListPets(ctx context.Context) ([]models.Pet, error) {
	out := make([]models.Pet, 0)
	if err := c.doJSON(ctx, http.MethodGet, "/pets", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPet fetches one pet.
func (c *Client) GetPet(ctx context.Context, petID int64) (*models.Pet, error) {
	var out models.Pet
	if err := c.doJSON(ctx, http.MethodGet, pathf("/pets/%s", petID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreatePet registers a pet. The input is not validated here.
func (c *Client) CreatePet(ctx context.Context, in *models.CreatePetInput) (*models.Pet, error) {
	var out models.Pet
	if err := c.doJSON(ctx, http.MethodPost, "/pets", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeletePet removes a pet.
func (c *Client) DeletePet(ctx context.Context, petID int64) error {
	return c.doJSON(ctx, http.MethodDelete, pathf("/pets/%s", petID), nil, nil)
}

// ---------------------------------------------------------------------------
// Videos
// ---------------------------------------------------------------------------

// ListVideos returns the finished videos of a pet.
func (c *Client) ListVideos(ctx context.Context, petID int64) ([]models.Video, error) {
	out := make([]models.Video, 0)
	if err := c.doJSON(ctx, http.MethodGet, pathf("/videos/pets/%s", petID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateVideo starts a generation job.
func (c *Client) CreateVideo(ctx context.Context, petID int64, interaction models.InteractionType) (*models.VideoJob, error) {
	body := map[string]string{"interactionType": string(interaction)}
	var out models.VideoJob
	if err := c.doJSON(ctx, http.MethodPost, pathf("/videos/pets/%s", petID), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// JobStatus polls a generation job once.
func (c *Client) JobStatus(ctx context.Context, jobID int64) (*models.VideoJob, error) {
	var out models.VideoJob
	if err := c.doJSON(ctx, http.MethodGet, pathf("/videos/jobs/%s", jobID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OpenProgressStream opens the server-push channel for a job and returns its
// body. The request has no timeout; it ends when ctx is cancelled, the body
// is closed, or the server finishes the stream.
func (c *Client) OpenProgressStream(ctx context.Context, jobID int64) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, pathf("/videos/jobs/%s/progress", jobID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.do(c.stream, req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// ListMessages returns the conversation with a pet in creation order.
func (c *Client) ListMessages(ctx context.Context, petID int64) ([]models.Message, error) {
	out := make([]models.Message, 0)
	if err := c.doJSON(ctx, http.MethodGet, pathf("/messages/pets/%s", petID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage posts a message to a pet.
func (c *Client) SendMessage(ctx context.Context, petID int64, content string) (*models.Message, error) {
	var out models.Message
	body := map[string]string{"content": content}
	if err := c.doJSON(ctx, http.MethodPost, pathf("/messages/pets/%s", petID), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkMessageRead flags a message as read.
func (c *Client) MarkMessageRead(ctx context.Context, messageID int64) error {
	return c.doJSON(ctx, http.MethodPut, pathf("/messages/%s/read", messageID), nil, nil)
}

// UnreadMessageCount returns how many pet messages are unread.
func (c *Client) UnreadMessageCount(ctx context.Context, petID int64) (int, error) {
	return c.unreadCount(ctx, pathf("/messages/pets/%s/unread-count", petID))
}

// ---------------------------------------------------------------------------
// Diaries
// ---------------------------------------------------------------------------

// ListDiaries returns a pet's diary entries.
func (c *Client) ListDiaries(ctx context.Context, petID int64) ([]models.DiaryEntry, error) {
	out := make([]models.DiaryEntry, 0)
	if err := c.doJSON(ctx, http.MethodGet, pathf("/diaries/pets/%s", petID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetDiary fetches one diary entry.
func (c *Client) GetDiary(ctx context.Context, diaryID int64) (*models.DiaryEntry, error) {
	var out models.DiaryEntry
	if err := c.doJSON(ctx, http.MethodGet, pathf("/diaries/%s", diaryID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateDiary asks the backend to write a new entry.
func (c *Client) CreateDiary(ctx context.Context, petID int64) (*models.DiaryEntry, error) {
	var out models.DiaryEntry
	if err := c.doJSON(ctx, http.MethodPost, pathf("/diaries/pets/%s", petID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkDiaryRead flags a diary entry as read.
func (c *Client) MarkDiaryRead(ctx context.Context, diaryID int64) error {
	return c.doJSON(ctx, http.MethodPut, pathf("/diaries/%s/read", diaryID), nil, nil)
}

// UnreadDiaryCount returns how many diary entries are unread.
func (c *Client) UnreadDiaryCount(ctx context.Context, petID int64) (int, error) {
	return c.unreadCount(ctx, pathf("/diaries/pets/%s/unread-count", petID))
}

func (c *Client) unreadCount(ctx context.Context, path string) (int, error) {
	var out struct {
		UnreadCount *int `json:"unreadCount"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return 0, err
	}
	if out.UnreadCount == nil {
		return 0, fmt.Errorf("api: %s: missing unreadCount", path)
	}
	return *out.UnreadCount, nil
}
