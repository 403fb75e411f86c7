package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/shaiso/iib/internal/domain"
	"github.com/shaiso/iib/internal/mq"
	"github.com/shaiso/iib/internal/repo"
	"github.com/shaiso/iib/internal/telemetry"
)

const defaultQueuePrefix = "iib"

// IndexBuilder — шаги сборки на хосте. Реализация: indexbuild.Builder.
type IndexBuilder interface {
	Cleanup(ctx context.Context) error
	Generate(ctx context.Context, dir string, job domain.BuildJob) error
	PatchRecipe(dir string) error
	BuildImage(ctx context.Context, dir string, requestID int64) error
	PushImage(ctx context.Context, requestID int64) (string, error)
}

// ArchLocker — блокировка сборки запроса на архитектуре. Реализация: lock.ArchLock.
type ArchLocker interface {
	Acquire(ctx context.Context, requestID int64, arch string) (func(context.Context) error, error)
}

// Worker собирает index image для одной архитектуры.
//
// Worker:
//   - Потребляет задания build.arch из очереди <prefix>_<arch>
//   - Проверяет, что запрос ещё не упал
//   - Генерирует рецепт opm, собирает и пушит образ
//   - Дописывает свою архитектуру в запрос
//
// На хосте одновременно идёт одна сборка: Cleanup удаляет все локальные образы.
type Worker struct {
	store   repo.RequestStore
	builder IndexBuilder
	locker  ArchLocker

	// MQ
	conn      *mq.Connection
	callbacks *mq.Callbacks
	consumer  *mq.Consumer

	// Configuration
	arch        string
	queuePrefix string
	tempDir     string

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	Store   repo.RequestStore
	Builder IndexBuilder

	// Locker — опционально; без него дубликаты заданий не отсекаются.
	Locker ArchLocker

	// MQ
	Conn      *mq.Connection
	Callbacks *mq.Callbacks

	// Arch — архитектура хоста.
	Arch string

	// QueuePrefix — префикс очереди (default: iib).
	QueuePrefix string

	// TempDir — где создаются рабочие директории (default: os.TempDir()).
	TempDir string

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	queuePrefix := cfg.QueuePrefix
	if queuePrefix == "" {
		queuePrefix = defaultQueuePrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		store:       cfg.Store,
		builder:     cfg.Builder,
		locker:      cfg.Locker,
		conn:        cfg.Conn,
		callbacks:   cfg.Callbacks,
		arch:        cfg.Arch,
		queuePrefix: queuePrefix,
		tempDir:     cfg.TempDir,
		logger:      telemetry.WithArch(telemetry.WithComponent(logger, "worker"), cfg.Arch),
	}
}

// Start объявляет очередь архитектуры и запускает consumer.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	queue := mq.ArchQueue(w.queuePrefix, w.arch)
	if err := mq.DeclareQueue(ctx, w.conn, queue); err != nil {
		cancel()
		return err
	}

	w.logger.Info("starting worker", "queue", queue.Name)

	w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
		Queue:       queue.Name,
		Handler:     w.handleBuildArch,
		Callbacks:   w.callbacks,
		Concurrency: 1,
	})

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("build consumer error", "error", err)
		}
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker и ждёт текущую сборку.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	if w.consumer != nil {
		w.consumer.Stop()
	}

	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}
