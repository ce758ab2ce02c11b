package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ticketing",
	Short: "Ticket lifecycle and payment reconciliation service",
	Long: `Ticketing runs the ticket sale lifecycle: reservations with a hold TTL,
payment reconciliation against provider outcomes, and status change publishing.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
