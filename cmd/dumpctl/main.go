package main

import (
	"fmt"
	"os"

	"github.com/function61/gokit/dynversion"
	"github.com/spf13/cobra"

	"github.com/openbmc/dump-manager/internal/dumpctl"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     os.Args[0],
		Short:   "Client for the OpenBMC dump manager's bus",
		Version: dynversion.Version,
	}

	for _, entrypoint := range dumpctl.Entrypoints() {
		rootCmd.AddCommand(entrypoint)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
