package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/amaumene/mediasync/internal/config"
	"github.com/spf13/cobra"
)

// Exit codes
const (
	ExitOK       = 0
	ExitError    = 1
	ExitFailures = 2
)

// exitError carries the process exit code of a command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// ExitCode maps a command error to the process exit code
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	return ExitError
}

// globalFlags are shared by every command
type globalFlags struct {
	baseDir string
	output  string
}

// NewRootCmd builds the command tree
func NewRootCmd(version string) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:     "mediasync",
		Short:   "Synchronize watchlists, ratings, reviews and watch history between tracking services",
		Version: version,
		Long: `mediasync collects watchlists, ratings, reviews and watch history from every configured
tracking service, reconciles them under the configured resolution strategy and pushes
only the missing changes back to each service.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultDir, err := config.DefaultBaseDir()
	if err != nil {
		defaultDir = ""
	}
	root.PersistentFlags().StringVar(&flags.baseDir, "base-dir", defaultDir, "directory holding config, credentials and data")
	root.PersistentFlags().StringVarP(&flags.output, "output", "o", outputHuman, "output format: human, json or json-pretty")

	root.AddCommand(syncCmd(flags))
	root.AddCommand(daemonCmd(flags))
	root.AddCommand(configCmd(flags))
	root.AddCommand(authCmd(flags))
	root.AddCommand(clearCmd(flags))
	root.AddCommand(statusCmd(flags))
	return root
}

// Execute runs the command line and returns the exit code
func Execute(version string) int {
	root := NewRootCmd(version)
	err := root.Execute()
	if err != nil {
		var exit *exitError
		if !errors.As(err, &exit) || exit.err != nil {
			fmt.Fprintln(os.Stderr, errorColor.Sprint("Error: ")+err.Error())
		}
	}
	return ExitCode(err)
}
