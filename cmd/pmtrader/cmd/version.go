package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  `Display the current version of the pmtrader CLI.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pmtrader version %s\n", version)
		fmt.Println("Risk-managed signal execution for prediction markets")
		fmt.Println("https://github.com/rustyeddy/pmtrader")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
