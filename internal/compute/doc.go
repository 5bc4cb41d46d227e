// Package compute содержит реализации типов вычислений, материализующих
// ассеты.
//
// # Обзор
//
// Вычисление — это исполняемое тело шага графа. Один вызов:
//   - Получает Call: запрошенные слоты, конфигурацию и входы
//   - Выполняет действие (констант, HTTP-загрузка, преобразование)
//   - Возвращает Result: исход каждого слота, Produced или Declined
//
// Вычисление видит только свои входы и конфигурацию. Планирование,
// retry и запись событий материализации — забота executor.
//
// # Интерфейс Handler
//
// Все типы вычислений реализуют интерфейс Handler:
//
//	type Handler interface {
//	    Kind() string
//	    Schema() ConfigSchema
//	    Execute(ctx context.Context, call *Call) (Result, error)
//	}
//
// Call содержит:
//   - StepID, RunID, Attempt — идентификаторы вызова
//   - RequestedSlots — какие выходные слоты нужны этому run
//   - Inputs — входы по именам: значение, исход upstream, событие
//   - Config — конфигурация с применёнными значениями по умолчанию
//
// Result — карта слот → SlotResult. Отсутствующий слот считается
// Declined. Сознательный отказ от required-слота — нарушение контракта
// (MissingRequiredOutput), отказ от optional-слота — исход Skipped.
// Отказ не вызывает retry; retry вызывает только поднятая ошибка.
//
// # Схема конфигурации
//
// Schema() описывает поля конфига: тип, обязательность, значение по
// умолчанию, допустимые значения. Резолвер проверяет конфиг каждого
// шага до запуска — невалидный конфиг отклоняет весь набор деклараций.
//
// # Registry
//
// Registry — фабрика для получения Handler по типу:
//
//	registry := compute.DefaultRegistry()  // constant, http_fetch, transform, passthrough
//	h, err := registry.Get("http_fetch")
//	if err != nil {
//	    // неизвестный тип
//	}
//
// Registry реализует engine.KindValidator: резолвер проверяет им
// существование типа и валидность конфига.
//
// # Типы вычислений
//
// ## Constant (constant.go)
//
// Выпускает значения из конфигурации. Основа воспроизводимых
// фикстур и корней графа без внешних источников.
//
//	{"values": {"daily": [1, 2, 3]}, "value": "shared"}
//
// ## HTTP Fetch (httpfetch.go)
//
// Загружает значения по HTTP GET; JSON-ответы декодируются.
//
//	{
//	    "url": "https://api.example.com/data",
//	    "urls": {"daily": "https://api.example.com/daily"},
//	    "headers": {"Authorization": "Bearer xxx"},
//	    "timeout_sec": 30
//	}
//
// Статус 400 и выше — поднятая ошибка FetchError: сработает политика
// retry шага.
//
// ## Transform (transform.go)
//
// Преобразует загруженные значения upstream-ассетов.
//
//	{"operation": "append", "items": [4]}
//	{"operation": "merge", "extra": {"source": "merged"}}
//	{"operation": "pick", "fields": ["id", "name"]}
//	{"operation": "rename", "mapping": {"old": "new"}}
//
// ## Passthrough (passthrough.go)
//
// Копирует значение входа в запрошенные слоты. Перенос ассета между
// группами или хранилищами.
//
//	{"input": "events"}
//
// # Использование
//
// Типичный flow в executor:
//
//	// 1. Получить Handler из Registry
//	h, err := registry.Get(step.Kind)
//
//	// 2. Подготовить Call
//	call := &compute.Call{
//	    StepID:         inv.StepID,
//	    RunID:          run.ID,
//	    Attempt:        attempt,
//	    RequestedSlots: inv.RequestedSlots,
//	    Inputs:         inputs,
//	    Config:         h.Schema().ApplyDefaults(step.Config),
//	    Logger:         logger,
//	}
//
//	// 3. Выполнить с context
//	result, err := h.Execute(ctx, call)
//	if err != nil {
//	    // поднятая ошибка: Failed, сработает retry
//	}
//
//	// 4. Разобрать исходы слотов
//	for _, slot := range inv.RequestedSlots {
//	    r := result.Slot(slot)
//	    // r.Produced() → store + событие; иначе Declined
//	}
//
// # Обработка ошибок
//
//	var (
//	    ErrKindNotFound   // тип не зарегистрирован
//	    ErrInvalidConfig  // неверная конфигурация
//	    ErrInvalidInput   // вход неожиданной формы
//	    ErrCancelled      // context cancelled
//	)
//
// Retry логика находится в executor, вычисления просто возвращают ошибки.
//
// # Файлы пакета
//
//   - compute.go     — интерфейс Handler, Call, Result, ошибки
//   - schema.go      — ConfigSchema и валидация конфигов
//   - registry.go    — Registry для получения Handler по типу
//   - constant.go    — ConstantHandler
//   - httpfetch.go   — HTTPFetchHandler
//   - transform.go   — TransformHandler
//   - passthrough.go — PassthroughHandler
package compute
