package marai

import (
	"context"
	"fmt"
	"log"
	"time"

	"marai-studio/internal/timeline"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// TaskBundle is what the dashboard needs to open a task's editor.
type TaskBundle struct {
	Task *Task
	Info *timeline.Info
}

// FetchTaskBundle loads the task detail and its timeline payload in
// parallel. The first failure cancels the other request.
func (c *Client) FetchTaskBundle(ctx context.Context, slug string, kind InfoKind) (*TaskBundle, error) {
	g, gctx := errgroup.WithContext(ctx)
	var b TaskBundle

	g.Go(func() error {
		t, err := c.TaskDetail(gctx, slug)
		if err != nil {
			return fmt.Errorf("task detail: %w", err)
		}
		b.Task = t
		return nil
	})
	g.Go(func() error {
		info, err := c.Info(gctx, slug, kind)
		if err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
		b.Info = info
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Terminal task statuses.
const (
	StatusDone   = "done"
	StatusFailed = "failed"
)

func IsTerminal(status string) bool {
	return status == StatusDone || status == StatusFailed
}

// WaitForStatus polls the task status at most once per interval until it
// reaches a terminal state or ctx ends. onChange sees every new status.
func (c *Client) WaitForStatus(ctx context.Context, slug string, interval time.Duration, onChange func(TaskStatus)) (*TaskStatus, error) {
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	last := ""
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		st, err := c.TaskStatus(ctx, slug)
		if err != nil {
			return nil, err
		}
		if st.Status != last {
			log.Printf("🔄 Task %s: %s", slug, st.Status)
			last = st.Status
			if onChange != nil {
				onChange(*st)
			}
		}
		if IsTerminal(st.Status) {
			return st, nil
		}
	}
}
