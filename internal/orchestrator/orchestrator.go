package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/iib/internal/domain"
	"github.com/shaiso/iib/internal/mq"
	"github.com/shaiso/iib/internal/repo"
	"github.com/shaiso/iib/internal/telemetry"
)

// Default configuration values.
const (
	defaultPollInterval = 30 * time.Second
	defaultConcurrency  = 16
	defaultQueuePrefix  = "iib"
)

// ImageResolver резолвит образы и их архитектуры. Реализация: image.Resolver.
type ImageResolver interface {
	Resolve(ctx context.Context, pullSpec string) (string, error)
	Arches(ctx context.Context, pullSpec string) (domain.ArchSet, error)
}

// JobDispatcher ставит задания в очереди. Реализация: mq.Dispatcher.
type JobDispatcher interface {
	Submit(ctx context.Context, job mq.Job, route mq.Route, onError *mq.Callback) error
}

// ManifestBuilder собирает и пушит manifest list. Реализация: manifest.Builder.
type ManifestBuilder interface {
	BuildAndPush(ctx context.Context, requestID int64, arches domain.ArchSet) (string, error)
}

// Orchestrator ведёт запросы на сборку от захвата до manifest list.
//
// Orchestrator:
//   - Получает задания request.add из очереди iib.requests
//   - Резолвит образы и вычисляет целевые архитектуры
//   - Раздаёт задания build.arch по очередям архитектур
//   - Опрашивает запрос до отчёта всех архитектур или выхода из in_progress
//   - Собирает manifest list ровно один раз
type Orchestrator struct {
	store      repo.RequestStore
	resolver   ImageResolver
	dispatcher JobDispatcher
	manifests  ManifestBuilder

	// MQ
	conn      *mq.Connection
	callbacks *mq.Callbacks
	consumer  *mq.Consumer

	// Active requests — запросы в обработке (requestID → progress)
	activeRequests map[int64]*BuildProgress
	mu             sync.RWMutex

	// Configuration
	supportedArches domain.ArchSet
	queuePrefix     string
	pollInterval    time.Duration
	pollTimeout     time.Duration
	concurrency     int

	// Lifecycle
	logger     *slog.Logger
	now        func() time.Time
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	Store      repo.RequestStore
	Resolver   ImageResolver
	Dispatcher JobDispatcher
	Manifests  ManifestBuilder

	// MQ. Conn нужен только для Start; без него доступны методы саги.
	Conn      *mq.Connection
	Callbacks *mq.Callbacks

	// SupportedArches — архитектуры, для которых есть воркеры.
	SupportedArches []string

	// QueuePrefix — префикс очередей воркеров (default: iib).
	QueuePrefix string

	PollInterval time.Duration // пауза между опросами (default: 30s)
	PollTimeout  time.Duration // предел ожидания сборок (0 — без ограничения)

	// Concurrency — сколько запросов обрабатывается одновременно (default: 16).
	Concurrency int

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	queuePrefix := cfg.QueuePrefix
	if queuePrefix == "" {
		queuePrefix = defaultQueuePrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		store:           cfg.Store,
		resolver:        cfg.Resolver,
		dispatcher:      cfg.Dispatcher,
		manifests:       cfg.Manifests,
		conn:            cfg.Conn,
		callbacks:       cfg.Callbacks,
		activeRequests:  make(map[int64]*BuildProgress),
		supportedArches: domain.NewArchSet(cfg.SupportedArches...),
		queuePrefix:     queuePrefix,
		pollInterval:    pollInterval,
		pollTimeout:     cfg.PollTimeout,
		concurrency:     concurrency,
		logger:          telemetry.WithComponent(logger, "orchestrator"),
		now:             time.Now,
	}
}

// Start запускает consumer очереди iib.requests.
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"poll_interval", o.pollInterval,
		"poll_timeout", o.pollTimeout,
		"concurrency", o.concurrency,
		"supported_arches", o.supportedArches.String(),
	)

	// Ack до обработки: сага дольше consumer_timeout брокера.
	// Запрос, брошенный при падении или остановке процесса, завершает reaper.
	o.consumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
		Queue:       mq.QueueRequests,
		Handler:     o.handleAddRequest,
		Callbacks:   o.callbacks,
		Concurrency: o.concurrency,
		AckEarly:    true,
	})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error("request consumer error", "error", err)
		}
	}()

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator и ждёт завершения обработчиков.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	if o.consumer != nil {
		o.consumer.Stop()
	}

	o.wg.Wait()

	o.logger.Info("orchestrator stopped",
		"active_requests", o.ActiveRequestsCount(),
	)
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// addActiveRequest регистрирует запрос в обработке.
func (o *Orchestrator) addActiveRequest(progress *BuildProgress) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.activeRequests[progress.RequestID()]; exists {
		return ErrRequestAlreadyActive
	}

	o.activeRequests[progress.RequestID()] = progress
	return nil
}

// getActiveRequest возвращает progress запроса, если он в обработке.
func (o *Orchestrator) getActiveRequest(requestID int64) *BuildProgress {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.activeRequests[requestID]
}

// removeActiveRequest удаляет запрос из активных.
func (o *Orchestrator) removeActiveRequest(requestID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeRequests, requestID)
}

// ActiveRequestsCount возвращает количество запросов в обработке.
func (o *Orchestrator) ActiveRequestsCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.activeRequests)
}

// ActiveRequestStats возвращает статистику по запросу в обработке.
func (o *Orchestrator) ActiveRequestStats(requestID int64) (Stats, bool) {
	progress := o.getActiveRequest(requestID)
	if progress == nil {
		return Stats{}, false
	}
	return progress.Stats(o.now()), true
}
