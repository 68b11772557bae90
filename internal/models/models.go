// Package models defines the EverWalk domain types mirrored from the backend API.
package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidInput is returned when caller-supplied data is rejected before
// any network call is made.
var ErrInvalidInput = errors.New("invalid input")

// ---------------------------------------------------------------------------
// Enums
// ---------------------------------------------------------------------------

// AuthProvider identifies how a user account was created.
type AuthProvider string

const (
	ProviderLocal  AuthProvider = "LOCAL"
	ProviderGoogle AuthProvider = "GOOGLE"
	ProviderKakao  AuthProvider = "KAKAO"
)

// InteractionType is the kind of scene requested for a generated video.
type InteractionType string

const (
	InteractionFeeding InteractionType = "FEEDING"
	InteractionPetting InteractionType = "PETTING"
	InteractionPlaying InteractionType = "PLAYING"
	InteractionWalking InteractionType = "WALKING"
)

// InteractionTypes lists the accepted interaction values in display order.
var InteractionTypes = []InteractionType{
	InteractionFeeding,
	InteractionPetting,
	InteractionPlaying,
	InteractionWalking,
}

// ParseInteractionType matches s against InteractionTypes case-insensitively.
func ParseInteractionType(s string) (InteractionType, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for _, t := range InteractionTypes {
		if string(t) == want {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown interaction type %q (want one of feeding, petting, playing, walking)", ErrInvalidInput, s)
}

// JobStatus is the server-side state of a video generation job.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// Terminal reports whether no further status transitions will happen.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// SenderType tells who wrote a message.
type SenderType string

const (
	SenderUser SenderType = "USER"
	SenderPet  SenderType = "PET"
)

// Mood is the emotional tag attached to a diary entry.
type Mood string

const (
	MoodHappy      Mood = "HAPPY"
	MoodPlayful    Mood = "PLAYFUL"
	MoodSleepy     Mood = "SLEEPY"
	MoodMissingYou Mood = "MISSING_YOU"
	MoodGrateful   Mood = "GRATEFUL"
)

// Moods lists the diary moods in heading order.
var Moods = []Mood{MoodHappy, MoodPlayful, MoodSleepy, MoodMissingYou, MoodGrateful}

// MoodHeadings maps moods to Markdown heading text.
var MoodHeadings = map[Mood]string{
	MoodHappy:      "Happy days",
	MoodPlayful:    "Playful days",
	MoodSleepy:     "Sleepy days",
	MoodMissingYou: "Missing you",
	MoodGrateful:   "Grateful days",
}

// Heading returns the Markdown heading for m, falling back to the raw value.
func (m Mood) Heading() string {
	if h, ok := MoodHeadings[m]; ok {
		return h
	}
	return string(m)
}

// ---------------------------------------------------------------------------
// Entities
// ---------------------------------------------------------------------------

// User is the account the session belongs to.
type User struct {
	ID        int64        `json:"id"`
	Email     string       `json:"email"`
	Name      string       `json:"name"`
	Provider  AuthProvider `json:"provider"`
	CreatedAt string       `json:"createdAt"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	User         User   `json:"user"`
}

// Pet is a registered family member.
type Pet struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	Species         string   `json:"species,omitempty"`
	AIDescription   string   `json:"aiDescription,omitempty"`
	PrimaryImageURL string   `json:"primaryImageUrl,omitempty"`
	IsActive        bool     `json:"isActive"`
	MemorialDate    string   `json:"memorialDate,omitempty"`
	ImageURLs       []string `json:"imageUrls"`
	CreatedAt       string   `json:"createdAt"`
}

// Video is a finished interaction video.
type Video struct {
	ID              int64           `json:"id"`
	PetID           int64           `json:"petId"`
	PetName         string          `json:"petName"`
	InteractionType InteractionType `json:"interactionType"`
	VideoURL        string          `json:"videoUrl"`
	ThumbnailURL    string          `json:"thumbnailUrl,omitempty"`
	DurationSeconds int             `json:"durationSeconds"`
	CreatedAt       string          `json:"createdAt"`
}

// VideoJob tracks an asynchronous video generation.
type VideoJob struct {
	ID              int64           `json:"id"`
	PetID           int64           `json:"petId"`
	InteractionType InteractionType `json:"interactionType"`
	Status          JobStatus       `json:"status"`
	LumaJobID       string          `json:"lumaJobId,omitempty"`
	ErrorMessage    string          `json:"errorMessage,omitempty"`
	ProgressPercent int             `json:"progressPercent"`
	CreatedAt       string          `json:"createdAt"`
	CompletedAt     string          `json:"completedAt,omitempty"`
}

// Message is one line of the conversation with a pet.
type Message struct {
	ID         int64      `json:"id"`
	PetID      int64      `json:"petId"`
	SenderType SenderType `json:"senderType"`
	Content    string     `json:"content"`
	IsRead     bool       `json:"isRead"`
	CreatedAt  string     `json:"createdAt"`
}

// DiaryEntry is an AI-written diary page from the pet's point of view.
type DiaryEntry struct {
	ID        int64  `json:"id"`
	PetID     int64  `json:"petId"`
	PetName   string `json:"petName"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Mood      Mood   `json:"mood"`
	IsRead    bool   `json:"isRead"`
	CreatedAt string `json:"createdAt"`
}

// ErrorResponse is the backend's error envelope.
type ErrorResponse struct {
	Timestamp string            `json:"timestamp"`
	Status    int               `json:"status"`
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
}

// ---------------------------------------------------------------------------
// Inputs
// ---------------------------------------------------------------------------

// CreatePetInput is the payload for registering a pet.
type CreatePetInput struct {
	Name         string   `json:"name"`
	ImageURLs    []string `json:"imageUrls"`
	Species      string   `json:"species,omitempty"`
	MemorialDate string   `json:"memorialDate,omitempty"`
}

// Validate rejects a pet without a name or without at least one image.
func (in *CreatePetInput) Validate() error {
	if in == nil || strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: pet name is required", ErrInvalidInput)
	}
	for _, u := range in.ImageURLs {
		if strings.TrimSpace(u) != "" {
			return nil
		}
	}
	return fmt.Errorf("%w: at least one image is required", ErrInvalidInput)
}

// ProgressUpdate is the payload of a "progress" event on the job stream.
type ProgressUpdate struct {
	Percent int       `json:"percent"`
	Status  JobStatus `json:"status"`
	Message string    `json:"message"`
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Slug converts a name to a lowercase hyphenated file-safe form.
// Names with no ASCII letters or digits yield "pet".
func Slug(name string) string {
	s := strings.ToLower(name)
	s = nonAlnum.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "pet"
	}
	return s
}
