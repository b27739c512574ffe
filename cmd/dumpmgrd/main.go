package main

import (
	"fmt"
	"os"

	"github.com/function61/gokit/dynversion"
	"github.com/spf13/cobra"

	"github.com/openbmc/dump-manager/internal/rootservice"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     os.Args[0],
		Short:   "OpenBMC dump manager daemon",
		Version: dynversion.Version,
	}

	rootCmd.AddCommand(rootservice.Entrypoint())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
