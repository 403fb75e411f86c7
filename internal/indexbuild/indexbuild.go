// Package indexbuild — вызовы opm и podman для сборки single-arch index image.
package indexbuild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shaiso/iib/internal/command"
	"github.com/shaiso/iib/internal/config"
	"github.com/shaiso/iib/internal/domain"
)

// RecipeFile — имя рецепта, который генерирует opm.
const RecipeFile = "index.Dockerfile"

const (
	buildOPMPath  = "/build/bin/opm"
	binaryOPMPath = "/bin/opm"
)

// ErrRecipe — рецепт не удалось прочитать или записать.
var ErrRecipe = errors.New("index recipe error")

// FixOPMPath заменяет путь к opm из образа сборки на путь в binary image.
func FixOPMPath(recipe string) string {
	return strings.ReplaceAll(recipe, buildOPMPath, binaryOPMPath)
}

// LocalPullSpec — тег локального образа запроса.
func LocalPullSpec(requestID int64) string {
	return "operator-registry-index:" + strconv.FormatInt(requestID, 10)
}

// Builder выполняет шаги сборки на текущем хосте.
type Builder struct {
	cfg    config.Config
	runner command.Runner
	logger *slog.Logger
}

// NewBuilder создаёт Builder.
func NewBuilder(cfg config.Config, runner command.Runner, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{cfg: cfg, runner: runner, logger: logger}
}

// Cleanup удаляет все локальные образы.
func (b *Builder) Cleanup(ctx context.Context) error {
	b.logger.Debug("removing all existing container images")
	_, err := b.runner.Run(ctx, command.Cmd{
		Name:   "podman",
		Args:   []string{"rmi", "--all", "--force"},
		ErrMsg: "Failed to remove the existing container images",
	})
	return err
}

// GenerateArgs — аргументы opm для генерации рецепта и базы.
func GenerateArgs(job domain.BuildJob) []string {
	args := []string{
		"index", "add", "--generate",
		"--bundles", strings.Join(job.Bundles, ","),
		"--binary-image", job.BinaryImageResolved,
	}
	if job.FromIndexResolved != "" {
		args = append(args, "--from-index", job.FromIndexResolved)
	}
	return args
}

// Generate запускает opm в dir: появляются база и index.Dockerfile.
func (b *Builder) Generate(ctx context.Context, dir string, job domain.BuildJob) error {
	b.logger.Info("generating the database file",
		"bundles", strings.Join(job.Bundles, ", "),
		"from_index", job.FromIndexResolved,
	)

	_, err := b.runner.Run(ctx, command.Cmd{
		Name:   "opm",
		Args:   GenerateArgs(job),
		Dir:    dir,
		ErrMsg: fmt.Sprintf("Failed to add the bundles to the index image on the arch %s", b.cfg.Arch),
	})
	return err
}

// PatchRecipe применяет FixOPMPath к index.Dockerfile в dir.
func (b *Builder) PatchRecipe(dir string) error {
	b.logger.Debug("fixing the opm path in " + RecipeFile)

	path := filepath.Join(dir, RecipeFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrRecipe, RecipeFile, err)
	}

	if err := os.WriteFile(path, []byte(FixOPMPath(string(data))), 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrRecipe, RecipeFile, err)
	}
	return nil
}

// BuildImage собирает локальный образ из рецепта в dir.
func (b *Builder) BuildImage(ctx context.Context, dir string, requestID int64) error {
	destination := LocalPullSpec(requestID)
	b.logger.Info("building the index image", "destination", destination)

	_, err := b.runner.Run(ctx, command.Cmd{
		Name:   "podman",
		Args:   []string{"build", "-f", filepath.Join(dir, RecipeFile), "-t", destination, "."},
		Dir:    dir,
		ErrMsg: fmt.Sprintf("Failed to build the index image on the arch %s", b.cfg.Arch),
	})
	return err
}

// PushImage пушит локальный образ в реестр под arch pull spec.
func (b *Builder) PushImage(ctx context.Context, requestID int64) (string, error) {
	source := LocalPullSpec(requestID)
	destination := b.cfg.ArchPullSpec(requestID, "")
	b.logger.Info("pushing the index image", "source", source, "destination", destination)

	_, err := b.runner.Run(ctx, command.Cmd{
		Name:   "podman",
		Args:   []string{"push", "-q", source, "docker://" + destination, "--creds", b.cfg.RegistryCredentials},
		ErrMsg: fmt.Sprintf("Failed to push the index image to %s on the arch %s", "docker://"+destination, b.cfg.Arch),
	})
	if err != nil {
		return "", err
	}
	return destination, nil
}
