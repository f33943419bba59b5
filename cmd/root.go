package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the mailwise application
var rootCmd = &cobra.Command{
	Use:   "mailwise",
	Short: "AI-assisted Gmail management backend",
	Long: `mailwise is the backend for an AI-assisted Gmail management application.

It brokers Google OAuth sign-in, exposes Gmail operations (read, search,
send, trash) over a JSON API, and drives a Gemini-backed chat assistant
that can act on the user's inbox.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mailwise version %s\n" .Version}}`)

	// If no subcommand is provided, run the serve command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mailwise version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mailwise version %s\n", version)
		},
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
