// Package command запускает внешние утилиты (skopeo, opm, podman, manifest-tool).
//
// Executor захватывает stdout и stderr, а при ненулевом коде выхода
// логирует команду и stderr с замаскированными учётными данными реестра
// и возвращает domain.Failure c ErrCommandFailed и сообщением вызывающей стороны.
package command

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"sort"
	"strings"

	"github.com/shaiso/iib/internal/domain"
)

// Redacted — маркер, которым заменяются секреты.
const Redacted = "********"

// defaultErrMsg — сообщение, если вызывающий не передал своё.
const defaultErrMsg = "An unexpected error occurred"

// ErrCommandFailed — команда завершилась с ненулевым кодом.
var ErrCommandFailed = errors.New("command execution failed")

// Cmd — описание запускаемой команды.
type Cmd struct {
	// Name — исполняемый файл.
	Name string

	// Args — аргументы.
	Args []string

	// Dir — рабочая директория (пусто — текущая).
	Dir string

	// ErrMsg — пояснение для ошибки, если команда упадёт.
	ErrMsg string
}

// String возвращает команду одной строкой (без маскировки).
func (c Cmd) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner — интерфейс запуска команд.
// Реализации: Executor; в тестах — фейки.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) (string, error)
}

// Executor запускает команды через os/exec.
type Executor struct {
	secrets []string
	logger  *slog.Logger
}

// NewExecutor создаёт Executor. secrets — строки, маскируемые в логах и ошибках.
func NewExecutor(secrets []string, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	filtered := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if s != "" {
			filtered = append(filtered, s)
		}
	}

	return &Executor{
		secrets: filtered,
		logger:  logger,
	}
}

// Run выполняет команду и возвращает её stdout.
func (e *Executor) Run(ctx context.Context, cmd Cmd) (string, error) {
	var stdout, stderr bytes.Buffer

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Stdout = &stdout
	c.Stderr = &stderr

	e.logger.Debug("running command", "command", e.Redact(cmd.String()), "dir", cmd.Dir)

	if err := c.Run(); err != nil {
		e.logger.Error("command failed",
			"command", e.Redact(cmd.String()),
			"stderr", e.Redact(stderr.String()),
			"error", e.Redact(err.Error()),
		)

		msg := cmd.ErrMsg
		if msg == "" {
			msg = defaultErrMsg
		}
		return "", domain.NewFailure(ErrCommandFailed, e.Redact(msg))
	}

	return stdout.String(), nil
}

// Redact заменяет все известные секреты в строке маркером Redacted.
// Сначала заменяются длинные секреты, чтобы user:pass не превратился в user:********.
func (e *Executor) Redact(s string) string {
	return Redact(s, e.secrets)
}

// Redact заменяет secrets в s маркером Redacted.
func Redact(s string, secrets []string) string {
	ordered := make([]string, 0, len(secrets))
	for _, secret := range secrets {
		if secret != "" {
			ordered = append(ordered, secret)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i]) > len(ordered[j])
	})

	for _, secret := range ordered {
		s = strings.ReplaceAll(s, secret, Redacted)
	}
	return s
}
