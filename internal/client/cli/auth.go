package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/taskgraph/internal/client/storage"
)

func (c *Cli) runRegister(ctx context.Context) error {
	c.io.Println("=== Register ===")
	c.io.Println()

	username, err := c.io.ReadInput("Username: ")
	if err != nil {
		return fmt.Errorf("failed to read username: %w", err)
	}

	password, err := c.io.ReadPassword("Password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	confirm, err := c.io.ReadPassword("Confirm password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}

	if err := c.session.Register(ctx, username, password); err != nil {
		return err
	}

	c.io.Println()
	c.io.Println("Registered. Run 'taskgraph login' to start working.")
	return nil
}

func (c *Cli) runLogin(ctx context.Context) error {
	c.io.Println("=== Login ===")
	c.io.Println()

	username, err := c.io.ReadInput("Username: ")
	if err != nil {
		return fmt.Errorf("failed to read username: %w", err)
	}

	password, err := c.io.ReadPassword("Password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	sess, err := c.session.Login(ctx, username, password)
	if err != nil {
		return err
	}

	c.io.Println()
	c.io.Printf("Logged in as %s. Session expires at %s.\n",
		sess.Username, sess.ExpiresAt.Format(time.RFC3339))
	return nil
}

func (c *Cli) runLogout(ctx context.Context) error {
	if err := c.session.Logout(ctx); err != nil {
		return err
	}
	c.io.Println("Logged out. Local data is kept on this device.")
	return nil
}

func (c *Cli) runStatus(ctx context.Context) error {
	c.io.Println("=== Status ===")
	c.io.Println()

	sess, err := c.session.Current(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			c.io.Println("Status: not authenticated")
			c.io.Println("Run 'taskgraph login' to authenticate.")
			return nil
		}
		return fmt.Errorf("failed to get session: %w", err)
	}

	if !sess.Valid() {
		c.io.Println("Status: session expired")
		c.io.Println("Local data is safe. Run 'taskgraph login' to resume sync.")
	} else {
		c.io.Printf("Status: authenticated as %s\n", sess.Username)
		c.io.Printf("Session expires: %s\n", sess.ExpiresAt.Format(time.RFC3339))
	}

	c.io.Println()
	for _, project := range c.engine.Projects() {
		summary := c.engine.PendingChanges(project.ID)
		if summary.Total > 0 {
			c.io.Printf("%s (%s): %d pending change(s)\n", project.Name, project.ID, summary.Total)
		} else {
			c.io.Printf("%s (%s): synchronized\n", project.Name, project.ID)
		}
	}

	hasConflicts, err := c.engine.HasConflicts(ctx)
	if err != nil {
		return fmt.Errorf("failed to check conflicts: %w", err)
	}
	if hasConflicts {
		c.io.Println()
		c.io.Println("There are unresolved conflicts. Run 'taskgraph conflicts'.")
	}

	return nil
}
