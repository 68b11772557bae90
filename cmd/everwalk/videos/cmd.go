// Package videoscmd implements the `everwalk videos` command group.
package videoscmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-ports/everwalk/cmd/everwalk/shared"
	"github.com/go-ports/everwalk/internal/models"
	"github.com/go-ports/everwalk/internal/progress"
	"github.com/go-ports/everwalk/internal/render"
	"github.com/go-ports/everwalk/internal/service"
)

// Command implements `everwalk videos`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command
}

// New creates the videos command group.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "videos",
		Short: "Generate and list interaction videos",
	}
	c.cmd.AddCommand(
		newList(ctx),
		newCreate(ctx),
		newStatus(ctx),
		newWatch(ctx),
	)
	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func newList(ctx *shared.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "list <pet-id>",
		Short: "List finished videos of a pet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			petID, err := shared.ParseID("pet", args[0])
			if err != nil {
				return err
			}
			svc, r, err := ctx.Open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			videos, err := svc.ListVideos(cmd.Context(), petID)
			if err != nil {
				return err
			}
			return r.Videos(videos)
		},
	}
}

func newCreate(ctx *shared.Context) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "create <pet-id> <feeding|petting|playing|walking>",
		Short: "Start generating a video",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			petID, err := shared.ParseID("pet", args[0])
			if err != nil {
				return err
			}
			interaction, err := models.ParseInteractionType(args[1])
			if err != nil {
				return err
			}
			svc, r, err := ctx.Open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			job, err := svc.CreateVideo(cmd.Context(), petID, interaction)
			if err != nil {
				return err
			}
			if err := r.Job(job); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			return watchJob(cmd, svc, r, job.ID, petID)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Follow generation progress until the job finishes")
	return cmd
}

func newStatus(ctx *shared.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Poll a generation job once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := shared.ParseID("job", args[0])
			if err != nil {
				return err
			}
			svc, r, err := ctx.Open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			job, err := svc.JobStatus(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			return r.Job(job)
		},
	}
}

func newWatch(ctx *shared.Context) *cobra.Command {
	var petID int64
	cmd := &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow generation progress until the job finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := shared.ParseID("job", args[0])
			if err != nil {
				return err
			}
			svc, r, err := ctx.Open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			return watchJob(cmd, svc, r, jobID, petID)
		},
	}
	cmd.Flags().Int64Var(&petID, "pet", 0, "Pet id whose video list is refreshed when the job ends")
	return cmd
}

// watchJob prints progress events until the terminal one. Interrupting the
// command cancels the context, which releases the stream.
func watchJob(cmd *cobra.Command, svc *service.Service, r *render.Renderer, jobID, petID int64) error {
	sub, err := svc.WatchProgress(cmd.Context(), jobID, petID)
	if err != nil {
		return err
	}
	defer sub.Close()

	var renderErr error
	last := sub.Wait(func(ev progress.Event) {
		if err := r.Progress(ev); err != nil && renderErr == nil {
			renderErr = err
		}
	})
	if renderErr != nil {
		return renderErr
	}
	if last.Kind == progress.KindFailed {
		return fmt.Errorf("job %d: %w", jobID, last.Err)
	}
	return nil
}
