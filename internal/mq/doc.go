// Package mq — очередь заданий IIB поверх RabbitMQ.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — exchanges, очереди и привязки
//   - publisher.go  — конверт Message и публикация
//   - dispatcher.go — постановка заданий по маршрутам
//   - callback.go   — реестр обработчиков ошибок заданий
//   - consumer.go   — потребление сообщений
//
// Маршрутизация:
//   - iib.requests     — задания оркестратору (request.add)
//   - <prefix>_<arch>  — задания воркерам архитектуры (build.arch);
//     имя очереди совпадает с routing key
//   - iib.dlq          — сообщения, обработка которых завершилась ошибкой
package mq
