// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go       — Handler с DI (хранилище запросов, dispatcher, logger)
//   - routes.go        — регистрация маршрутов
//   - middleware.go    — middleware (logging, recovery)
//   - response.go      — унифицированные JSON-ответы и обработка ошибок
//   - dto.go           — Data Transfer Objects (request/response)
//   - build_handler.go — обработчики для /builds
//
// POST /api/v1/builds создаёт запрос в состоянии queued и публикует
// задание request.add оркестратору с callback'ом fail_request.
package api
