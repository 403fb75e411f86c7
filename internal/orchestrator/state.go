package orchestrator

import (
	"sync"
	"time"

	"github.com/shaiso/iib/internal/domain"
)

// Stage — стадия обработки запроса оркестратором.
type Stage string

const (
	StagePreparing  Stage = "preparing"
	StageDispatched Stage = "dispatched"
	StagePolling    Stage = "polling"
	StageCompleting Stage = "completing"
	StageCompleted  Stage = "completed"
	StageAborted    Stage = "aborted"
)

// BuildProgress — состояние обработки одного запроса в памяти оркестратора.
//
// Создаётся при получении задания и удаляется после завершения обработки.
// Источник правды — запись запроса в хранилище; здесь только то,
// что нужно для логов и статистики.
type BuildProgress struct {
	requestID int64
	startedAt time.Time

	mu        sync.RWMutex
	stage     Stage
	arches    domain.ArchSet
	remaining domain.ArchSet
}

// NewBuildProgress создаёт BuildProgress в стадии preparing.
func NewBuildProgress(requestID int64, now time.Time) *BuildProgress {
	return &BuildProgress{
		requestID: requestID,
		startedAt: now,
		stage:     StagePreparing,
		arches:    domain.NewArchSet(),
		remaining: domain.NewArchSet(),
	}
}

// RequestID возвращает ID запроса.
func (p *BuildProgress) RequestID() int64 {
	return p.requestID
}

// SetStage переводит обработку в стадию stage.
func (p *BuildProgress) SetStage(stage Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = stage
}

// Stage возвращает текущую стадию.
func (p *BuildProgress) Stage() Stage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stage
}

// SetArches задаёт целевые архитектуры; все они считаются ожидаемыми.
func (p *BuildProgress) SetArches(arches domain.ArchSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.arches = arches.Clone()
	p.remaining = arches.Clone()
}

// MarkDone убирает готовые архитектуры из ожидаемых и возвращает оставшиеся.
func (p *BuildProgress) MarkDone(done domain.ArchSet) domain.ArchSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remaining = p.remaining.Minus(done)
	return p.remaining.Clone()
}

// Remaining возвращает архитектуры, по которым ещё нет отчёта.
func (p *BuildProgress) Remaining() domain.ArchSet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.remaining.Clone()
}

// Stats — снимок BuildProgress для логов.
type Stats struct {
	RequestID int64
	Stage     Stage
	Arches    []string
	Remaining []string
	Elapsed   time.Duration
}

// Stats возвращает снимок состояния на момент now.
func (p *BuildProgress) Stats(now time.Time) Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return Stats{
		RequestID: p.requestID,
		Stage:     p.stage,
		Arches:    p.arches.Sorted(),
		Remaining: p.remaining.Sorted(),
		Elapsed:   now.Sub(p.startedAt),
	}
}
