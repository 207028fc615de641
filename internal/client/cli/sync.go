package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/taskgraph/internal/client/engine"
)

func (c *Cli) runSync(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: taskgraph sync <project-id>")
	}
	projectID := args[0]

	c.io.Printf("Synchronizing %s...\n", projectID)

	report, err := c.engine.SyncProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, engine.ErrAuditFailed) {
			c.io.Println("Sync aborted: local change audit found errors:")
			for _, issue := range report.Issues {
				c.io.Printf("  [%s] %s\n", issue.Severity, issue.Message)
			}
			return err
		}
		return err
	}

	for _, recommendation := range report.Recommendations {
		c.io.Printf("note: %s\n", recommendation)
	}

	// Результат придет асинхронно через канал состояний
	select {
	case change := <-c.engine.States():
		switch change.State {
		case engine.SyncStateSynced:
			c.io.Println("Synchronized.")
		case engine.SyncStateConflict:
			c.io.Println("Conflict detected: automatic sync for this project is paused.")
			c.io.Println("Run 'taskgraph conflicts' to inspect, then 'taskgraph resolve'.")
		case engine.SyncStateOffline:
			c.io.Println("Offline: changes are safe locally and will sync later.")
		case engine.SyncStatePending:
			c.io.Println("Accepted: changes are queued for synchronization.")
		default:
			if change.Err != nil {
				c.io.Printf("Sync failed: %v\n", change.Err)
			}
		}
	case <-time.After(30 * time.Second):
		c.io.Println("Still working in the background; check 'taskgraph status' later.")
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (c *Cli) runConflicts(ctx context.Context) error {
	conflicts, err := c.engine.ListConflicts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list conflicts: %w", err)
	}

	if len(conflicts) == 0 {
		c.io.Println("No unresolved conflicts.")
		return nil
	}

	c.io.Println("=== Unresolved conflicts ===")
	for _, conflict := range conflicts {
		c.io.Printf("project %s: %s (local v%d vs remote v%d) at %s\n",
			conflict.ProjectID,
			conflict.Reason,
			conflict.LocalVersion,
			conflict.RemoteVersion,
			conflict.ConflictedAt.Format(time.RFC3339))

		if err := c.engine.AcknowledgeConflict(ctx, conflict.ProjectID); err != nil {
			c.io.Printf("warning: failed to mark conflict as seen: %v\n", err)
		}
	}

	c.io.Println()
	c.io.Println("Resolve with 'taskgraph resolve <project-id> keep-local|keep-remote'.")
	return nil
}

func (c *Cli) runResolve(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: taskgraph resolve <project-id> <keep-local|keep-remote>")
	}
	projectID, choice := args[0], args[1]

	switch choice {
	case "keep-local":
		if err := c.engine.ResolveKeepLocal(ctx, projectID); err != nil {
			return err
		}
		c.io.Println("Kept the local version; it will overwrite the remote one.")
	case "keep-remote":
		if err := c.engine.ResolveKeepRemote(ctx, projectID); err != nil {
			return err
		}
		c.io.Println("Kept the remote version; local pending changes were dropped.")
	default:
		return fmt.Errorf("unknown resolution %q: use keep-local or keep-remote", choice)
	}

	return nil
}
