package progress_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/go-ports/everwalk/internal/api"
	"github.com/go-ports/everwalk/internal/apitest"
	"github.com/go-ports/everwalk/internal/models"
	"github.com/go-ports/everwalk/internal/progress"
)

const jobID = int64(42)

func setup(c *qt.C) (*apitest.Server, *api.Client) {
	c.Helper()
	srv := apitest.New(c)
	return srv, api.New(srv.BaseURL())
}

// next reads one event or fails the test after a second.
func next(c *qt.C, sub *progress.Subscription) (progress.Event, bool) {
	c.Helper()
	select {
	case ev, ok := <-sub.Events():
		return ev, ok
	case <-time.After(time.Second):
		c.Fatal("timed out waiting for a progress event")
		return progress.Event{}, false
	}
}

// ---------------------------------------------------------------------------
// Terminal statuses
// ---------------------------------------------------------------------------

func TestSubscribe_CompletedReleasesConnection(t *testing.T) {
	c := qt.New(t)
	srv, client := setup(c)

	srv.SetProgress(jobID, true,
		models.ProgressUpdate{Percent: 10, Status: models.JobProcessing, Message: "warming up"},
		models.ProgressUpdate{Percent: 100, Status: models.JobCompleted, Message: "done"},
	)

	sub := progress.Subscribe(context.Background(), client, jobID)
	defer sub.Close()

	var kinds []progress.Kind
	var percents []int
	final := sub.Wait(func(ev progress.Event) {
		kinds = append(kinds, ev.Kind)
		percents = append(percents, ev.Percent)
	})

	c.Assert(kinds, qt.DeepEquals, []progress.Kind{progress.KindProgress, progress.KindProgress, progress.KindCompleted})
	c.Assert(percents, qt.DeepEquals, []int{10, 100, 100})
	c.Assert(final.Kind, qt.Equals, progress.KindCompleted)
	c.Assert(final.Err, qt.IsNil)
	c.Assert(srv.WaitNoStreams(time.Second), qt.IsTrue)
	c.Assert(srv.OpenedStreams(), qt.Equals, 1)
}

func TestSubscribe_FailedStatus(t *testing.T) {
	c := qt.New(t)
	srv, client := setup(c)

	srv.SetProgress(jobID, true,
		models.ProgressUpdate{Percent: 40, Status: models.JobProcessing},
		models.ProgressUpdate{Percent: 40, Status: models.JobFailed, Message: "model crashed"},
	)

	sub := progress.Subscribe(context.Background(), client, jobID)
	final := sub.Wait(nil)

	c.Assert(final.Kind, qt.Equals, progress.KindFailed)
	c.Assert(errors.Is(final.Err, progress.ErrJobFailed), qt.IsTrue)
	c.Assert(final.Err, qt.ErrorMatches, ".*model crashed")
	c.Assert(srv.WaitNoStreams(time.Second), qt.IsTrue)
}

func TestSubscribe_ExactlyOneTerminalEvent(t *testing.T) {
	c := qt.New(t)
	srv, client := setup(c)

	srv.SetProgress(jobID, false,
		models.ProgressUpdate{Percent: 100, Status: models.JobCompleted},
		models.ProgressUpdate{Percent: 100, Status: models.JobCompleted},
		models.ProgressUpdate{Percent: 0, Status: models.JobFailed},
	)

	sub := progress.Subscribe(context.Background(), client, jobID)
	terminal := 0
	sub.Wait(func(ev progress.Event) {
		if ev.Terminal() {
			terminal++
		}
	})
	c.Assert(terminal, qt.Equals, 1)
}

// ---------------------------------------------------------------------------
// Transport failures
// ---------------------------------------------------------------------------

func TestSubscribe_StreamEndsBeforeTerminal(t *testing.T) {
	c := qt.New(t)
	srv, client := setup(c)

	srv.SetProgress(jobID, false, models.ProgressUpdate{Percent: 30, Status: models.JobProcessing})

	sub := progress.Subscribe(context.Background(), client, jobID)
	ev, ok := next(c, sub)
	c.Assert(ok, qt.IsTrue)
	c.Assert(ev.Kind, qt.Equals, progress.KindProgress)

	ev, ok = next(c, sub)
	c.Assert(ok, qt.IsTrue)
	c.Assert(ev.Kind, qt.Equals, progress.KindFailed)
	c.Assert(errors.Is(ev.Err, progress.ErrStreamEnded), qt.IsTrue)

	_, ok = next(c, sub)
	c.Assert(ok, qt.IsFalse)
}

func TestSubscribe_MalformedFrame(t *testing.T) {
	c := qt.New(t)
	srv, client := setup(c)

	srv.SetRawProgress(jobID, true, "event: progress\ndata: {not json\n\n")

	sub := progress.Subscribe(context.Background(), client, jobID)
	final := sub.Wait(nil)

	c.Assert(final.Kind, qt.Equals, progress.KindFailed)
	c.Assert(final.Err, qt.ErrorMatches, "progress: decode event: .*")
	c.Assert(srv.WaitNoStreams(time.Second), qt.IsTrue)
}

func TestSubscribe_OtherEventNamesIgnored(t *testing.T) {
	c := qt.New(t)
	srv, client := setup(c)

	srv.SetRawProgress(jobID, false,
		"event: heartbeat\ndata: {}\n\n"+
			"data: {\"percent\":5}\n\n"+
			"event: progress\ndata: {\"percent\":100,\"status\":\"COMPLETED\"}\n\n")

	sub := progress.Subscribe(context.Background(), client, jobID)
	var got []progress.Event
	sub.Wait(func(ev progress.Event) { got = append(got, ev) })

	c.Assert(got, qt.HasLen, 2)
	c.Assert(got[0].Percent, qt.Equals, 100)
	c.Assert(got[1].Kind, qt.Equals, progress.KindCompleted)
}

func TestSubscribe_FrameFormatting(t *testing.T) {
	c := qt.New(t)
	srv, client := setup(c)

	srv.SetRawProgress(jobID, false,
		": keep-alive\r\nretry: 1000\r\n\r\n"+
			"event: progress\r\nid: 1\r\ndata: {\"percent\":50,\r\ndata: \"status\":\"PROCESSING\"}\r\n\r\n"+
			"event:progress\ndata:{\"percent\":100,\"status\":\"COMPLETED\"}\n\n")

	sub := progress.Subscribe(context.Background(), client, jobID)
	var got []progress.Event
	sub.Wait(func(ev progress.Event) { got = append(got, ev) })

	c.Assert(got, qt.HasLen, 3)
	c.Assert(got[0].Percent, qt.Equals, 50)
	c.Assert(got[0].Status, qt.Equals, models.JobProcessing)
	c.Assert(got[1].Percent, qt.Equals, 100)
	c.Assert(got[2].Kind, qt.Equals, progress.KindCompleted)
}

func TestSubscribe_UnknownJob(t *testing.T) {
	c := qt.New(t)
	_, client := setup(c)

	sub := progress.Subscribe(context.Background(), client, 999)
	final := sub.Wait(nil)

	c.Assert(final.Kind, qt.Equals, progress.KindFailed)
	c.Assert(errors.Is(final.Err, api.ErrNotFound), qt.IsTrue)
}

func TestSubscribe_OpenErrorIsReported(t *testing.T) {
	c := qt.New(t)

	boom := errors.New("boom")
	sub := progress.Subscribe(context.Background(), openerFunc(func(context.Context, int64) (io.ReadCloser, error) {
		return nil, boom
	}), jobID)

	ev, ok := next(c, sub)
	c.Assert(ok, qt.IsTrue)
	c.Assert(ev.Kind, qt.Equals, progress.KindFailed)
	c.Assert(errors.Is(ev.Err, boom), qt.IsTrue)
	_, ok = next(c, sub)
	c.Assert(ok, qt.IsFalse)
}

// ---------------------------------------------------------------------------
// Close and cancellation
// ---------------------------------------------------------------------------

func TestSubscription_CloseReleasesHeldStream(t *testing.T) {
	c := qt.New(t)
	srv, client := setup(c)

	srv.SetProgress(jobID, true, models.ProgressUpdate{Percent: 20, Status: models.JobProcessing})

	sub := progress.Subscribe(context.Background(), client, jobID)
	ev, ok := next(c, sub)
	c.Assert(ok, qt.IsTrue)
	c.Assert(ev.Percent, qt.Equals, 20)
	c.Assert(srv.ActiveStreams(), qt.Equals, 1)

	sub.Close()
	sub.Close()

	_, ok = <-sub.Events()
	c.Assert(ok, qt.IsFalse)
	c.Assert(srv.WaitNoStreams(time.Second), qt.IsTrue)
}

func TestSubscription_CloseWithoutReading(t *testing.T) {
	c := qt.New(t)
	srv, client := setup(c)

	srv.SetProgress(jobID, true,
		models.ProgressUpdate{Percent: 1, Status: models.JobProcessing},
		models.ProgressUpdate{Percent: 2, Status: models.JobProcessing},
	)

	sub := progress.Subscribe(context.Background(), client, jobID)
	sub.Close()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		c.Fatal("subscription did not release its connection")
	}
	c.Assert(srv.WaitNoStreams(time.Second), qt.IsTrue)
	c.Assert(sub.Wait(nil).Err, qt.Equals, progress.ErrClosed)
}

func TestSubscription_ContextCancelIsClose(t *testing.T) {
	c := qt.New(t)
	srv, client := setup(c)

	srv.SetProgress(jobID, true, models.ProgressUpdate{Percent: 50, Status: models.JobProcessing})

	ctx, cancel := context.WithCancel(context.Background())
	sub := progress.Subscribe(ctx, client, jobID)
	_, _ = next(c, sub)
	cancel()

	final := sub.Wait(nil)
	c.Assert(errors.Is(final.Err, progress.ErrClosed), qt.IsTrue)
	c.Assert(srv.WaitNoStreams(time.Second), qt.IsTrue)
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

func TestRegistry_OneSubscriptionPerJob(t *testing.T) {
	c := qt.New(t)
	srv, client := setup(c)

	srv.SetProgress(jobID, true, models.ProgressUpdate{Percent: 5, Status: models.JobProcessing})

	reg := progress.NewRegistry(client)
	sub, err := reg.Subscribe(context.Background(), jobID)
	c.Assert(err, qt.IsNil)
	_, _ = next(c, sub)

	_, err = reg.Subscribe(context.Background(), jobID)
	c.Assert(errors.Is(err, progress.ErrAlreadySubscribed), qt.IsTrue)
	c.Assert(reg.Live(), qt.Equals, 1)

	reg.CloseAll()
	c.Assert(reg.Live(), qt.Equals, 0)
	c.Assert(srv.WaitNoStreams(time.Second), qt.IsTrue)

	again, err := reg.Subscribe(context.Background(), jobID)
	c.Assert(err, qt.IsNil)
	_, _ = next(c, again)
	again.Close()
	c.Assert(srv.OpenedStreams(), qt.Equals, 2)
}

type openerFunc func(context.Context, int64) (io.ReadCloser, error)

func (f openerFunc) OpenProgressStream(ctx context.Context, id int64) (io.ReadCloser, error) {
	return f(ctx, id)
}
