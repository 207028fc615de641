// Package cli реализует команды клиента taskgraph.
package cli

import (
	"context"
	"fmt"

	"github.com/iudanet/taskgraph/internal/client/engine"
	"github.com/iudanet/taskgraph/internal/client/iocli"
	"github.com/iudanet/taskgraph/internal/client/session"
)

// Cli объединяет зависимости команд клиента
type Cli struct {
	io      iocli.IO
	engine  *engine.Engine
	session *session.Service
}

// New создает CLI
func New(io iocli.IO, eng *engine.Engine, sess *session.Service) *Cli {
	return &Cli{
		io:      io,
		engine:  eng,
		session: sess,
	}
}

// Run выполняет одну команду
func (c *Cli) Run(ctx context.Context, command string, args []string) error {
	switch command {
	case "register":
		return c.runRegister(ctx)
	case "login":
		return c.runLogin(ctx)
	case "logout":
		return c.runLogout(ctx)
	case "status":
		return c.runStatus(ctx)
	case "projects":
		return c.runProjects(ctx)
	case "new-project":
		return c.runNewProject(ctx, args)
	case "add":
		return c.runAdd(ctx, args)
	case "list":
		return c.runList(ctx, args)
	case "tree":
		return c.runTree(ctx, args)
	case "edit":
		return c.runEdit(ctx, args)
	case "delete":
		return c.runDelete(ctx, args)
	case "connect":
		return c.runConnect(ctx, args)
	case "disconnect":
		return c.runDisconnect(ctx, args)
	case "sync":
		return c.runSync(ctx, args)
	case "conflicts":
		return c.runConflicts(ctx)
	case "resolve":
		return c.runResolve(ctx, args)
	case "help", "":
		c.PrintUsage()
		return nil
	default:
		c.PrintUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

// PrintUsage печатает справку по командам
func (c *Cli) PrintUsage() {
	c.io.Println("Usage: taskgraph <command> [arguments]")
	c.io.Println()
	c.io.Println("Authentication:")
	c.io.Println("  register                    register a new account")
	c.io.Println("  login                       log in and store the session")
	c.io.Println("  logout                      drop the stored session")
	c.io.Println("  status                      show session and sync status")
	c.io.Println()
	c.io.Println("Projects and tasks:")
	c.io.Println("  projects                    list local projects")
	c.io.Println("  new-project <name>          create a project")
	c.io.Println("  add <project-id>            add a task (interactive)")
	c.io.Println("  list <project-id>           list tasks of a project")
	c.io.Println("  tree <project-id>           show the task hierarchy")
	c.io.Println("  edit <project-id> <task-id> edit a task (interactive)")
	c.io.Println("  delete <project-id> <id>    delete a task or connection")
	c.io.Println("  connect <project-id> <from> <to> [kind]")
	c.io.Println("                              link two tasks (dependency|reference)")
	c.io.Println("  disconnect <project-id> <connection-id>")
	c.io.Println()
	c.io.Println("Synchronization:")
	c.io.Println("  sync <project-id>           synchronize a project now")
	c.io.Println("  conflicts                   list unresolved conflicts")
	c.io.Println("  resolve <project-id> <keep-local|keep-remote>")
}
