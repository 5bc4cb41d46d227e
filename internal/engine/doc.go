// Package engine отвечает за разрешение графа ассетов и компиляцию планов.
//
// Включает:
//   - resolver.go  — разрешение DeclarationSet в неизменяемый Graph
//   - graph.go     — представление разрешённого графа и его индексы
//   - selection.go — вычисление замкнутой выборки по структурному запросу
//   - compiler.go  — компиляция выборки в план вызовов шагов
//
// Engine отвечает за понимание структуры графа ассетов: привязку входов,
// валидацию инвариантов, обнаружение циклов и определение порядка
// материализации. Выполнение скомпилированного плана — забота пакета
// executor.
package engine
