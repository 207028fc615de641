package cli

import (
	"context"
	"fmt"

	"github.com/iudanet/taskgraph/internal/models"
)

func (c *Cli) runConnect(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: taskgraph connect <project-id> <from-task> <to-task> [kind]")
	}
	projectID, sourceID, targetID := args[0], args[1], args[2]

	kind := models.ConnectionDependency
	if len(args) > 3 {
		kind = args[3]
	}

	conn, err := c.engine.Connect(projectID, sourceID, targetID, kind)
	if err != nil {
		return err
	}

	c.io.Printf("Connected %s -> %s (%s, %s)\n", sourceID, targetID, conn.Kind, conn.ID)
	return nil
}

func (c *Cli) runDisconnect(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: taskgraph disconnect <project-id> <connection-id>")
	}

	if err := c.engine.Disconnect(args[0], args[1]); err != nil {
		return err
	}

	c.io.Println("Connection removed.")
	return nil
}
