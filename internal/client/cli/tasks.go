package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/iudanet/taskgraph/internal/client/engine"
	"github.com/iudanet/taskgraph/internal/models"
)

func (c *Cli) runProjects(_ context.Context) error {
	projects := c.engine.Projects()
	if len(projects) == 0 {
		c.io.Println("No local projects. Create one with 'taskgraph new-project <name>'.")
		return nil
	}

	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	for _, project := range projects {
		c.io.Printf("%s  %s (v%d, %d tasks)\n",
			project.ID, project.Name, project.Version, len(liveTasks(project)))
	}
	return nil
}

func (c *Cli) runNewProject(_ context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: taskgraph new-project <name>")
	}

	project, err := c.engine.CreateProject(strings.Join(args, " "))
	if err != nil {
		return err
	}

	c.io.Printf("Created project %s (%s)\n", project.Name, project.ID)
	return nil
}

func (c *Cli) runAdd(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: taskgraph add <project-id>")
	}
	projectID := args[0]
	c.engine.SetActiveProject(projectID)

	title, err := c.io.ReadInput("Title: ")
	if err != nil {
		return fmt.Errorf("failed to read title: %w", err)
	}

	description, err := c.io.ReadInput("Description (optional): ")
	if err != nil {
		return fmt.Errorf("failed to read description: %w", err)
	}

	parentID, err := c.io.ReadInput("Parent task id (optional): ")
	if err != nil {
		return fmt.Errorf("failed to read parent: %w", err)
	}

	task, err := c.engine.CreateTask(projectID, &models.Task{
		Title:       title,
		Description: description,
		ParentID:    parentID,
	})
	if err != nil {
		return err
	}

	c.io.Printf("Added task %s\n", task.ID)
	return nil
}

func (c *Cli) runList(_ context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: taskgraph list <project-id>")
	}

	project := c.engine.Project(args[0])
	if project == nil {
		return fmt.Errorf("project %s is not loaded", args[0])
	}

	tasks := liveTasks(project)
	if len(tasks) == 0 {
		c.io.Println("No tasks.")
		return nil
	}

	for _, task := range tasks {
		c.io.Printf("%s  [%s]  %s\n", task.ID, task.Status, task.Title)
	}
	return nil
}

func (c *Cli) runTree(_ context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: taskgraph tree <project-id>")
	}

	project := c.engine.Project(args[0])
	if project == nil {
		return fmt.Errorf("project %s is not loaded", args[0])
	}

	children := make(map[string][]*models.Task)
	for _, task := range liveTasks(project) {
		children[task.ParentID] = append(children[task.ParentID], task)
	}
	for _, siblings := range children {
		sort.Slice(siblings, func(i, j int) bool { return siblings[i].Title < siblings[j].Title })
	}

	c.io.Printf("%s\n", project.Name)
	c.printSubtree(children, "", "")
	return nil
}

func (c *Cli) printSubtree(children map[string][]*models.Task, parentID, indent string) {
	for _, task := range children[parentID] {
		c.io.Printf("%s- [%s] %s (%s)\n", indent, task.Status, task.Title, task.ID)
		c.printSubtree(children, task.ID, indent+"  ")
	}
}

func (c *Cli) runEdit(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: taskgraph edit <project-id> <task-id>")
	}
	projectID, taskID := args[0], args[1]
	c.engine.SetActiveProject(projectID)

	project := c.engine.Project(projectID)
	if project == nil {
		return fmt.Errorf("project %s is not loaded", projectID)
	}
	task := project.FindTask(taskID)
	if task == nil {
		return fmt.Errorf("task %s not found", taskID)
	}

	// Пока пользователь в редакторе, входящие удаленные изменения
	// не затирают его поля
	c.engine.StartEditing(projectID, taskID)
	defer c.engine.StopEditing(projectID)

	c.io.Printf("Editing %s (leave a field empty to keep its value)\n", task.Title)

	title, err := c.io.ReadInput(fmt.Sprintf("Title [%s]: ", task.Title))
	if err != nil {
		return fmt.Errorf("failed to read title: %w", err)
	}
	status, err := c.io.ReadInput(fmt.Sprintf("Status [%s]: ", task.Status))
	if err != nil {
		return fmt.Errorf("failed to read status: %w", err)
	}
	description, err := c.io.ReadInput("Description (- to clear): ")
	if err != nil {
		return fmt.Errorf("failed to read description: %w", err)
	}

	patch := engine.TaskPatch{}
	if title != "" {
		patch.Title = &title
	}
	if status != "" {
		patch.Status = &status
	}
	if description != "" {
		if description == "-" {
			description = ""
		}
		patch.Description = &description
	}

	if _, err := c.engine.UpdateTask(projectID, taskID, patch); err != nil {
		return err
	}

	c.io.Println("Task updated.")
	return nil
}

func (c *Cli) runDelete(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: taskgraph delete <project-id> <task-id>")
	}
	projectID, taskID := args[0], args[1]

	if err := c.engine.DeleteTask(projectID, taskID); err != nil {
		return err
	}

	c.io.Println("Task deleted.")
	return nil
}

// liveTasks возвращает задачи без tombstone в стабильном порядке
func liveTasks(project *models.Project) []*models.Task {
	tasks := make([]*models.Task, 0, len(project.Tasks))
	for i := range project.Tasks {
		if !project.Tasks[i].IsDeleted() {
			tasks = append(tasks, &project.Tasks[i])
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	return tasks
}
