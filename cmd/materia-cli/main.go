// Materia CLI — инструмент командной строки для управления графами
// активов, запусками материализации и историей событий через HTTP API.
//
// Использование:
//
//	materia [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	graph  Управление графами активов
//	run    Управление запусками материализации
//	asset  История материализаций и внешние отчёты
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Materia/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "materia",
		Short:         "Materia CLI — asset materialization engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewGraphCmd(clientFn, outputFn),
		cli.NewRunCmd(clientFn, outputFn),
		cli.NewAssetCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
