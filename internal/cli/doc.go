// Package cli реализует инструмент командной строки IIB.
//
// # Обзор
//
// CLI — клиентская утилита для IIB API. Работает через HTTP,
// не импортирует внутренние пакеты системы.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для IIB API. Инкапсулирует HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	build, err := client.GetBuild(42)
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: iib build list --json | jq .
//
// ## Commands
//
//   - build: add, show, list, wait
//
// NewBuildCmd принимает clientFn и outputFn — замыкания для ленивого
// создания Client и Output после парсинга PersistentFlags.
// build add --wait и build wait завершаются ошибкой, если сборка упала.
package cli
