// IIB CLI — инструмент командной строки для сборок index image
// через HTTP API.
//
// Использование:
//
//	iib [--api-url URL] [--json] build <subcommand> [flags]
//
// Команды:
//
//	build add   Создать сборку
//	build show  Показать сборку
//	build list  Список сборок
//	build wait  Дождаться завершения сборки
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/iib/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "iib",
		Short:         "IIB CLI — multi-arch operator index image builds",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := "http://localhost:8080"
	if v := os.Getenv("IIB_API_URL"); v != "" {
		defaultURL = v
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewBuildCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		outputFn().Error(err.Error())
		os.Exit(1)
	}
}
