package manifest

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/shaiso/iib/internal/command"
	"github.com/shaiso/iib/internal/config"
	"github.com/shaiso/iib/internal/domain"
)

// fakeRunner запоминает команду и содержимое файла описания на момент вызова.
type fakeRunner struct {
	cmd  command.Cmd
	spec string
	fail bool
}

func (f *fakeRunner) Run(_ context.Context, cmd command.Cmd) (string, error) {
	f.cmd = cmd
	// Файл удаляется после BuildAndPush, читаем сразу
	data, err := os.ReadFile(cmd.Args[len(cmd.Args)-1])
	if err != nil {
		return "", err
	}
	f.spec = string(data)
	if f.fail {
		return "", domain.NewFailure(command.ErrCommandFailed, cmd.ErrMsg)
	}
	return "", nil
}

func testConfig() config.Config {
	return config.Config{
		Registry:              "registry:8443",
		RegistryCredentials:   "iib:s3cr3t",
		ImagePushTemplate:     "{registry}/iib-build:{request_id}",
		ArchImagePushTemplate: "{registry}/iib-build:{request_id}-{arch}",
	}
}

func TestBuilder_BuildAndPush(t *testing.T) {
	runner := &fakeRunner{}
	b := NewBuilder(testConfig(), runner, nil)

	image, err := b.BuildAndPush(context.Background(), 3, domain.NewArchSet("s390x", "amd64"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if image != "registry:8443/iib-build:3" {
		t.Errorf("unexpected output image: %s", image)
	}

	want := `image: registry:8443/iib-build:3
manifests:
  - image: registry:8443/iib-build:3-amd64
    platform:
      architecture: amd64
      os: linux
  - image: registry:8443/iib-build:3-s390x
    platform:
      architecture: s390x
      os: linux
`
	if runner.spec != want {
		t.Errorf("unexpected descriptor:\n%s\nwant:\n%s", runner.spec, want)
	}

	args := strings.Join(runner.cmd.Args, " ")
	if runner.cmd.Name != "manifest-tool" || !strings.HasPrefix(args, "--username iib --password s3cr3t push from-spec ") {
		t.Errorf("unexpected command: %s", runner.cmd.String())
	}

	// Временная директория удалена
	if _, err := os.Stat(runner.cmd.Args[len(runner.cmd.Args)-1]); !os.IsNotExist(err) {
		t.Errorf("descriptor file should be removed, stat err: %v", err)
	}
}

func TestBuilder_BuildAndPush_Failure(t *testing.T) {
	b := NewBuilder(testConfig(), &fakeRunner{fail: true}, nil)

	_, err := b.BuildAndPush(context.Background(), 3, domain.NewArchSet("amd64"))
	if !errors.Is(err, ErrManifestPush) {
		t.Fatalf("expected ErrManifestPush, got %v", err)
	}
	if domain.ReasonOf(err) != "Failed to push the manifest list to registry:8443/iib-build:3" {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestNewDescriptor_DoesNotMutateInput(t *testing.T) {
	entries := []domain.ManifestEntry{
		{Arch: "s390x", PullSpec: "b"},
		{Arch: "amd64", PullSpec: "a"},
	}

	d := NewDescriptor("img", entries)

	if entries[0].Arch != "s390x" {
		t.Error("input slice should not be reordered")
	}
	if d.Manifests[0].Platform.Architecture != "amd64" || d.Manifests[1].Image != "b" {
		t.Errorf("unexpected descriptor: %+v", d)
	}
}
