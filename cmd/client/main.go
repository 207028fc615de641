package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/iudanet/taskgraph/internal/client/api"
	"github.com/iudanet/taskgraph/internal/client/cli"
	"github.com/iudanet/taskgraph/internal/client/engine"
	"github.com/iudanet/taskgraph/internal/client/iocli"
	"github.com/iudanet/taskgraph/internal/client/session"
	"github.com/iudanet/taskgraph/internal/client/storage"
	"github.com/iudanet/taskgraph/internal/client/storage/boltdb"
	"github.com/iudanet/taskgraph/internal/client/storage/fallback"
	"github.com/iudanet/taskgraph/internal/models"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// clientStorage собирает локальное хранилище engine: снимки и ledger
// живут в bolt, записи конфликтов проходят через файловое зеркало,
// переживающее порчу основной базы.
type clientStorage struct {
	*boltdb.Storage
	conflicts *fallback.ConflictStore
}

func newClientStorage(bolt *boltdb.Storage, conflicts *fallback.ConflictStore) *clientStorage {
	return &clientStorage{Storage: bolt, conflicts: conflicts}
}

func (s *clientStorage) SaveConflict(ctx context.Context, record *models.ConflictRecord) error {
	return s.conflicts.SaveConflict(ctx, record)
}

func (s *clientStorage) GetConflict(ctx context.Context, projectID string) (*models.ConflictRecord, error) {
	return s.conflicts.GetConflict(ctx, projectID)
}

func (s *clientStorage) ListConflicts(ctx context.Context) ([]models.ConflictMeta, error) {
	return s.conflicts.ListConflicts(ctx)
}

func (s *clientStorage) HasConflicts(ctx context.Context) (bool, error) {
	return s.conflicts.HasConflicts(ctx)
}

func (s *clientStorage) DeleteConflict(ctx context.Context, projectID string) error {
	return s.conflicts.DeleteConflict(ctx, projectID)
}

func (s *clientStorage) MarkAcknowledged(ctx context.Context, projectID string) error {
	return s.conflicts.MarkAcknowledged(ctx, projectID)
}

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	serverURL := flag.String("server", defaultEnv("TASKGRAPH_SERVER", "http://localhost:8080"), "Server URL")
	dbPath := flag.String("db", defaultEnv("TASKGRAPH_CLIENT_DB", "taskgraph-client.db"), "Path to local database")
	verbose := flag.Bool("v", false, "Verbose logging")

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	args := flag.Args()
	command := ""
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	if err := run(context.Background(), logger, *serverURL, *dbPath, command, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, serverURL, dbPath, command string, args []string) error {
	boltStorage, err := boltdb.New(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := boltStorage.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	mirror, err := fallback.NewMirror(mirrorPath(dbPath))
	if err != nil {
		return fmt.Errorf("failed to open conflict mirror: %w", err)
	}
	conflicts := fallback.NewConflictStore(boltStorage, mirror, logger)
	locals := newClientStorage(boltStorage, conflicts)

	apiClient := api.NewClient(serverURL)
	sessions := session.NewService(apiClient, boltStorage, serverURL, logger)
	eng := engine.New(apiClient, locals, logger, nil, engine.Options{})
	commands := cli.New(iocli.NewStdio(), eng, sessions)

	if command == "" || command == "help" {
		commands.PrintUsage()
		return nil
	}

	// Команды аутентификации работают без восстановленной сессии
	// и без запущенного engine
	switch command {
	case "register", "login", "logout":
		return commands.Run(ctx, command, args)
	}

	sess, err := sessions.Restore(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return errors.New("not logged in: run 'taskgraph login' first")
		}
		return fmt.Errorf("failed to restore session: %w", err)
	}

	if err := eng.Start(ctx, sess.UserID); err != nil {
		return fmt.Errorf("failed to start sync engine: %w", err)
	}
	defer func() {
		if err := eng.Close(ctx); err != nil {
			logger.Error("failed to persist local state", "error", err)
		}
	}()

	return commands.Run(ctx, command, args)
}

func mirrorPath(dbPath string) string {
	dir := filepath.Dir(dbPath)
	base := filepath.Base(dbPath)
	return filepath.Join(dir, base+".conflicts.json")
}

func defaultEnv(key, fallbackValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallbackValue
}

func printVersion() {
	fmt.Printf("TaskGraph Client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
