// Package cmd implements the command-line interface for mailwise.
//
// This package provides the following commands:
//   - serve: Start the mailwise API server
//   - version: Display version information
//
// The serve command is the default command when no subcommand is specified.
package cmd
