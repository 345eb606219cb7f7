package cli

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	DB         string
	Domain     string
	Spool      string

	// Now pins the time source in milliseconds. Negative means wall clock.
	Now int64
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the xchange CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "xchange",
		Short: "xchange - device order exchange",
		Long: `Operate one domain of the device order exchange.

Clients submit orders to devices; both sides escrow a stake that settles
when the device finishes, rejects, or misses the deadline. Devices and
clients hosted by different domains exchange binary frames through a
shared spool directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.ConfigPath, "config", "", "path to TOML config file")
	pf.StringVar(&opts.DB, "db", "", "path to SQLite database (overrides config)")
	pf.StringVar(&opts.Domain, "domain", "", "local domain (overrides config)")
	pf.StringVar(&opts.Spool, "spool", "", "spool directory shared with remote domains (overrides config)")
	pf.Int64Var(&opts.Now, "now", -1, "pin the current time in milliseconds")

	cmd.AddCommand(NewRegisterCommand(opts))
	cmd.AddCommand(NewRegisterRemoteCommand(opts))
	cmd.AddCommand(NewSetStateCommand(opts))
	cmd.AddCommand(NewSubmitCommand(opts))
	cmd.AddCommand(NewCancelCommand(opts))
	cmd.AddCommand(NewAcceptCommand(opts))
	cmd.AddCommand(NewDoneCommand(opts))
	cmd.AddCommand(NewCloseAccountCommand(opts))
	cmd.AddCommand(NewDepositCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewEventsCommand(opts))
	cmd.AddCommand(NewDeliverCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// Main runs the CLI with args and returns the process exit code. Errors
// that are not ExitErrors come from cobra itself (unknown flags, missing
// arguments) and count as command errors.
func Main(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}
