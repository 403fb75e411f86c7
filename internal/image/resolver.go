// Package image определяет digest и архитектуры образов через skopeo inspect.
package image

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/distribution/reference"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/shaiso/iib/internal/command"
	"github.com/shaiso/iib/internal/domain"
)

// MediaTypeManifestList — media type v2 manifest list (Docker distribution).
const MediaTypeManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"

// Ошибки резолвера.
var (
	// ErrImageResolution — образ не удалось проинспектировать.
	ErrImageResolution = errors.New("image resolution failed")

	// ErrNotMultiArch — образ не является v2 manifest list.
	ErrNotMultiArch = errors.New("image is not a v2 manifest list")
)

// inspectOutput — нужная часть вывода `skopeo inspect`.
type inspectOutput struct {
	Name   string `json:"Name"`
	Digest string `json:"Digest"`
}

// Resolver резолвит pull spec'и через skopeo.
type Resolver struct {
	runner command.Runner
	logger *slog.Logger
}

// NewResolver создаёт Resolver.
func NewResolver(runner command.Runner, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{runner: runner, logger: logger}
}

// Resolve возвращает pull spec, закреплённый по digest: name@sha256:...
func (r *Resolver) Resolve(ctx context.Context, pullSpec string) (string, error) {
	r.logger.Debug("resolving image", "pull_spec", pullSpec)

	raw, err := r.inspect(ctx, pullSpec)
	if err != nil {
		return "", err
	}

	var out inspectOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: decode inspect output of %s: %v", ErrImageResolution, pullSpec, err)
	}

	resolved, err := pinDigest(out.Name, out.Digest)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrImageResolution, pullSpec, err)
	}

	r.logger.Debug("image resolved", "pull_spec", pullSpec, "resolved", resolved)
	return resolved, nil
}

// Arches возвращает архитектуры образов в manifest list.
func (r *Resolver) Arches(ctx context.Context, pullSpec string) (domain.ArchSet, error) {
	r.logger.Debug("getting the available arches", "pull_spec", pullSpec)

	raw, err := r.inspect(ctx, pullSpec, "--raw")
	if err != nil {
		return nil, err
	}

	var index ocispec.Index
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, fmt.Errorf("%w: decode raw manifest of %s: %v", ErrImageResolution, pullSpec, err)
	}

	if index.MediaType != MediaTypeManifestList {
		return nil, domain.NewFailure(ErrNotMultiArch,
			fmt.Sprintf("The pull specification of %s is not a v2 manifest list", pullSpec))
	}

	arches := domain.NewArchSet()
	for _, m := range index.Manifests {
		if m.Platform == nil || m.Platform.Architecture == "" {
			continue
		}
		arches.Add(m.Platform.Architecture)
	}

	return arches, nil
}

// inspect вызывает `skopeo inspect [flags] docker://<pullSpec>`.
func (r *Resolver) inspect(ctx context.Context, pullSpec string, flags ...string) ([]byte, error) {
	target := "docker://" + pullSpec

	args := append([]string{"inspect"}, flags...)
	args = append(args, target)

	out, err := r.runner.Run(ctx, command.Cmd{
		Name:   "skopeo",
		Args:   args,
		ErrMsg: fmt.Sprintf("Failed to inspect %s. Make sure it exists and is accessible to IIB.", target),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImageResolution, err)
	}

	return []byte(out), nil
}

// pinDigest собирает name@digest, проверяя имя и digest.
func pinDigest(name, dgst string) (string, error) {
	d, err := digest.Parse(dgst)
	if err != nil {
		return "", fmt.Errorf("invalid digest %q: %w", dgst, err)
	}

	named, err := reference.ParseNormalizedNamed(name)
	if err != nil {
		return "", fmt.Errorf("invalid image name %q: %w", name, err)
	}

	canonical, err := reference.WithDigest(reference.TrimNamed(named), d)
	if err != nil {
		return "", fmt.Errorf("pin digest: %w", err)
	}

	return canonical.String(), nil
}
