// Package cli реализует инструмент командной строки Materia.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с Materia API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
// CLI используется для управления графами активов, запусками
// материализации и историей событий.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Materia API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (dataResponse, listResponse, errorResponse)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	graphs, err := client.ListGraphs()
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.Encoder с отступами) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: materia graph list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - graph: submit, list, show, assets, versions, stale
//   - run: submit, list, show, cancel, outcomes
//   - asset: events, latest, report
//
// Каждая группа создаётся через фабричную функцию (NewGraphCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
