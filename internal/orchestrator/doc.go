// Package orchestrator координирует сборку multi-arch index image.
//
// Для каждого задания request.add оркестратор:
//   - захватывает запрос (queued → in_progress) и резолвит образы
//   - вычисляет целевые архитектуры и проверяет их поддержку
//   - ставит по одному заданию build.arch в очередь каждой архитектуры
//   - опрашивает запрос, пока воркеры не отчитаются по всем архитектурам
//   - собирает manifest list и завершает запрос
//
// Воркеры с оркестратором напрямую не общаются: единственный канал
// координации — запись запроса в RequestStore.
package orchestrator
