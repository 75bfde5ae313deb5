package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gateways",
	Short: "Payment gateways microservice",
	Long:  "A payment gateways microservice that charges, vaults, refunds and tracks transactions across pluggable processors.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
