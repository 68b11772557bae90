// Package mcp provides the stdio MCP server exposing EverWalk tools to agents.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/go-ports/everwalk/internal/buildinfo"
	"github.com/go-ports/everwalk/internal/models"
	"github.com/go-ports/everwalk/internal/service"
)

// previewLen caps diary content in list results.
const previewLen = 120

var interactionNames = []string{"feeding", "petting", "playing", "walking"}

const petsListDescription = `List the pets registered by the signed-in user. Returns id, name, species and memorial date for each pet. Call this first to find the pet_id used by the other tools.`

const diaryCreateDescription = `Ask the backend to write a new diary entry from the pet's point of view. The entry is generated server-side and returned in full.`

const videoCreateDescription = `Start generating an interaction video for a pet. Generation is asynchronous: the returned job id can be polled with video_job_status.`

// NewServer creates and registers all EverWalk tools on a new MCP server.
// It is separate from Serve so that tests can drive the server in-process.
func NewServer(svc *service.Service) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer("everwalk", buildinfo.Version)
	registerTools(s, svc)
	return s
}

// Serve starts the stdio MCP server for the client home, blocking until stdin
// closes. An empty home is resolved from the environment.
func Serve(_ context.Context, home string, opts ...service.Option) error {
	svc, err := service.New(home, opts...)
	if err != nil {
		return fmt.Errorf("mcp: init service: %w", err)
	}
	defer svc.Close()

	return mcpserver.ServeStdio(NewServer(svc))
}

func registerTools(s *mcpserver.MCPServer, svc *service.Service) {
	s.AddTool(mcp.NewTool("pets_list",
		mcp.WithDescription(petsListDescription),
	), func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handlePetsList(ctx, svc)
	})

	s.AddTool(mcp.NewTool("pet_get",
		mcp.WithDescription("Get one pet with its description and images."),
		mcp.WithNumber("pet_id", mcp.Description("Pet id from pets_list."), mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handlePetGet(ctx, svc, req)
	})

	s.AddTool(mcp.NewTool("messages_list",
		mcp.WithDescription("List the conversation with a pet, oldest first."),
		mcp.WithNumber("pet_id", mcp.Description("Pet id from pets_list."), mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleMessagesList(ctx, svc, req)
	})

	s.AddTool(mcp.NewTool("message_send",
		mcp.WithDescription("Send a message to a pet. Blank content is ignored."),
		mcp.WithNumber("pet_id", mcp.Description("Pet id from pets_list."), mcp.Required()),
		mcp.WithString("content", mcp.Description("Message text."), mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleMessageSend(ctx, svc, req)
	})

	s.AddTool(mcp.NewTool("diary_list",
		mcp.WithDescription("List a pet's diary entries with a short preview of each."),
		mcp.WithNumber("pet_id", mcp.Description("Pet id from pets_list."), mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleDiaryList(ctx, svc, req)
	})

	s.AddTool(mcp.NewTool("diary_create",
		mcp.WithDescription(diaryCreateDescription),
		mcp.WithNumber("pet_id", mcp.Description("Pet id from pets_list."), mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleDiaryCreate(ctx, svc, req)
	})

	s.AddTool(mcp.NewTool("diary_search",
		mcp.WithDescription("Search diary entries already fetched to this client. Works offline."),
		mcp.WithString("query", mcp.Description("Search terms"), mcp.Required()),
		mcp.WithNumber("pet_id", mcp.Description("Limit to one pet.")),
		mcp.WithNumber("limit", mcp.Description("Max results (default 10)")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleDiarySearch(ctx, svc, req)
	})

	s.AddTool(mcp.NewTool("video_create",
		mcp.WithDescription(videoCreateDescription),
		mcp.WithNumber("pet_id", mcp.Description("Pet id from pets_list."), mcp.Required()),
		mcp.WithString("interaction",
			mcp.Description("Scene to generate."),
			mcp.Required(),
			mcp.Enum(interactionNames...),
		),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleVideoCreate(ctx, svc, req)
	})

	s.AddTool(mcp.NewTool("video_job_status",
		mcp.WithDescription("Poll a video generation job once."),
		mcp.WithNumber("job_id", mcp.Description("Job id from video_create."), mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleJobStatus(ctx, svc, req)
	})
}

// ---------------------------------------------------------------------------
// Tool handlers
// ---------------------------------------------------------------------------

func handlePetsList(ctx context.Context, svc *service.Service) (*mcp.CallToolResult, error) {
	pets, err := svc.ListPets(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	clean := make([]map[string]any, 0, len(pets))
	for _, p := range pets {
		clean = append(clean, map[string]any{
			"id":            p.ID,
			"name":          p.Name,
			"species":       p.Species,
			"memorial_date": p.MemorialDate,
			"created":       formatDate(p.CreatedAt),
		})
	}
	return jsonResult(map[string]any{
		"total": len(clean),
		"pets":  clean,
	})
}

func handlePetGet(ctx context.Context, svc *service.Service, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req, "pet_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pet, err := svc.GetPet(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(pet)
}

func handleMessagesList(ctx context.Context, svc *service.Service, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req, "pet_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	msgs, err := svc.ListMessages(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	clean := make([]map[string]any, 0, len(msgs))
	unread := 0
	for _, m := range msgs {
		if !m.IsRead {
			unread++
		}
		clean = append(clean, map[string]any{
			"id":      m.ID,
			"from":    strings.ToLower(string(m.SenderType)),
			"content": m.Content,
			"read":    m.IsRead,
			"date":    formatDate(m.CreatedAt),
		})
	}
	return jsonResult(map[string]any{
		"total":    len(clean),
		"unread":   unread,
		"messages": clean,
	})
}

func handleMessageSend(ctx context.Context, svc *service.Service, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req, "pet_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	msg, err := svc.SendMessage(ctx, id, req.GetString("content", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if msg == nil {
		return jsonResult(map[string]any{"sent": false})
	}
	return jsonResult(map[string]any{
		"sent":    true,
		"id":      msg.ID,
		"content": msg.Content,
	})
}

func handleDiaryList(ctx context.Context, svc *service.Service, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req, "pet_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entries, err := svc.ListDiary(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"total":   len(entries),
		"entries": diaryPreviews(entries),
	})
}

func handleDiaryCreate(ctx context.Context, svc *service.Service, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req, "pet_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entry, err := svc.CreateDiary(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(entry)
}

func handleDiarySearch(ctx context.Context, svc *service.Service, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 10)
	if limit <= 0 {
		limit = 10
	}
	entries, err := svc.SearchDiary(ctx, req.GetString("query", ""), int64(req.GetInt("pet_id", 0)), limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(diaryPreviews(entries))
}

func handleVideoCreate(ctx context.Context, svc *service.Service, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req, "pet_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	job, err := svc.CreateVideo(ctx, id, models.InteractionType(req.GetString("interaction", "")))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(jobResult(job))
}

func handleJobStatus(ctx context.Context, svc *service.Service, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(req, "job_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	job, err := svc.JobStatus(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(jobResult(job))
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var errMissingID = errors.New("missing id")

// requireID reads a positive integer argument.
func requireID(req mcp.CallToolRequest, name string) (int64, error) {
	id := req.GetInt(name, 0)
	if id <= 0 {
		return 0, fmt.Errorf("%w: %s is required", errMissingID, name)
	}
	return int64(id), nil
}

func jobResult(job *models.VideoJob) map[string]any {
	out := map[string]any{
		"job_id":      job.ID,
		"pet_id":      job.PetID,
		"interaction": strings.ToLower(string(job.InteractionType)),
		"status":      string(job.Status),
		"percent":     job.ProgressPercent,
		"done":        job.Status.Terminal(),
	}
	if job.ErrorMessage != "" {
		out["error"] = job.ErrorMessage
	}
	return out
}

func diaryPreviews(entries []models.DiaryEntry) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		preview := truncate(e.Content, previewLen)
		if preview != e.Content {
			preview += "..."
		}
		out = append(out, map[string]any{
			"id":      e.ID,
			"pet_id":  e.PetID,
			"title":   e.Title,
			"mood":    e.Mood.Heading(),
			"preview": preview,
			"read":    e.IsRead,
			"date":    formatDate(e.CreatedAt),
		})
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen])
	}
	return s
}

func formatDate(dateStr string) string {
	if len(dateStr) >= 10 {
		dateStr = dateStr[:10]
	}
	t, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return dateStr
	}
	return t.Format("Jan 02")
}
