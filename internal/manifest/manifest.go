// Package manifest собирает manifest list из single-arch образов запроса
// и пушит его через manifest-tool.
package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/iib/internal/command"
	"github.com/shaiso/iib/internal/config"
	"github.com/shaiso/iib/internal/domain"
)

// ErrManifestPush — manifest list не удалось запушить.
var ErrManifestPush = errors.New("manifest list push failed")

// specFileName — имя файла описания для manifest-tool.
const specFileName = "manifest.yaml"

// Platform — платформа образа в описании manifest list.
type Platform struct {
	Architecture string `yaml:"architecture"`
	OS           string `yaml:"os"`
}

// Entry — один образ в manifest list.
type Entry struct {
	Image    string   `yaml:"image"`
	Platform Platform `yaml:"platform"`
}

// Descriptor — описание manifest list в формате manifest-tool push from-spec.
type Descriptor struct {
	Image     string  `yaml:"image"`
	Manifests []Entry `yaml:"manifests"`
}

// NewDescriptor формирует описание с записями, отсортированными по архитектуре.
func NewDescriptor(image string, entries []domain.ManifestEntry) Descriptor {
	sorted := make([]domain.ManifestEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Arch < sorted[j].Arch
	})

	d := Descriptor{
		Image:     image,
		Manifests: make([]Entry, 0, len(sorted)),
	}
	for _, e := range sorted {
		d.Manifests = append(d.Manifests, Entry{
			Image:    e.PullSpec,
			Platform: Platform{Architecture: e.Arch, OS: "linux"},
		})
	}
	return d
}

// Marshal сериализует описание в YAML.
func (d Descriptor) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Builder собирает и пушит manifest list.
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

// BuildAndPush пушит manifest list из образов requestID для arches
// и возвращает его pull spec.
func (b *Builder) BuildAndPush(ctx context.Context, requestID int64, arches domain.ArchSet) (string, error) {
	outputSpec := b.cfg.IndexPullSpec(requestID)

	entries := make([]domain.ManifestEntry, 0, arches.Len())
	for _, arch := range arches.Sorted() {
		entries = append(entries, domain.ManifestEntry{
			Arch:     arch,
			PullSpec: b.cfg.ArchPullSpec(requestID, arch),
		})
	}

	body, err := NewDescriptor(outputSpec, entries).Marshal()
	if err != nil {
		return "", fmt.Errorf("%w: marshal descriptor: %v", ErrManifestPush, err)
	}

	dir, err := os.MkdirTemp("", fmt.Sprintf("iib-%d-", requestID))
	if err != nil {
		return "", fmt.Errorf("%w: create temp dir: %v", ErrManifestPush, err)
	}
	defer os.RemoveAll(dir)

	specPath := filepath.Join(dir, specFileName)
	if err := os.WriteFile(specPath, body, 0o600); err != nil {
		return "", fmt.Errorf("%w: write descriptor: %v", ErrManifestPush, err)
	}

	b.logger.Debug("pushing manifest list",
		"request_id", requestID,
		"output", outputSpec,
		"arches", arches.String(),
	)

	user, password := b.cfg.Credentials()
	_, err = b.runner.Run(ctx, command.Cmd{
		Name:   "manifest-tool",
		Args:   []string{"--username", user, "--password", password, "push", "from-spec", specPath},
		ErrMsg: fmt.Sprintf("Failed to push the manifest list to %s", outputSpec),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrManifestPush, err)
	}

	return outputSpec, nil
}
