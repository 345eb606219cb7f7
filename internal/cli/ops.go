package cli

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/xchange/internal/model"
)

// OpResult is the payload printed after a successful protocol call.
type OpResult struct {
	Op      string `json:"op"`
	Domain  string `json:"domain"`
	Account string `json:"account"`
}

// Text renders the result for --format text.
func (r OpResult) Text() string {
	return fmt.Sprintf("ok: %s %s on %s", r.Op, r.Account, r.Domain)
}

// runOp opens the node, runs fn and reports the outcome. fn returns the
// account the call acted on.
func runOp(cmd *cobra.Command, opts *RootOptions, op string, fn func(ctx context.Context, n *node) (model.AccountID, error)) error {
	n, err := openNode(cmd, opts)
	if err != nil {
		return err
	}
	defer n.Close()

	account, err := fn(commandContext(cmd), n)
	if err != nil {
		return n.out.Failure(err)
	}
	return n.out.Success(OpResult{Op: op, Domain: string(n.domain), Account: string(account)})
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		as           string
		penalty      uint64
		workDuration uint64
		on           bool
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register or update a local device",
		Long: `Register a device hosted by this domain, replacing any previous
profile. Fails with DEVICE_EXISTS while the device holds an order.

Example:
  xchange register --as printer --penalty 200 --work-duration 60000 --on`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, rootOpts, "register", func(ctx context.Context, n *node) (model.AccountID, error) {
				device, err := parseAccount("as", as)
				if err != nil {
					return "", err
				}
				return device, n.engine.Register(ctx, device, penalty, workDuration, on)
			})
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "device account (required)")
	cmd.Flags().Uint64Var(&penalty, "penalty", 0, "penalty the device escrows per order")
	cmd.Flags().Uint64Var(&workDuration, "work-duration", 0, "minimum milliseconds the device needs per order")
	cmd.Flags().BoolVar(&on, "on", false, "start Ready instead of Off")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

// NewRegisterRemoteCommand creates the register-remote command.
func NewRegisterRemoteCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		device       string
		home         string
		penalty      uint64
		workDuration uint64
	)
	cmd := &cobra.Command{
		Use:   "register-remote",
		Short: "Mirror a device hosted by another domain",
		Long: `Record a device hosted by another domain so local clients can submit
orders to it. The mirror starts Ready.

Example:
  xchange register-remote --device plotter --home beta --penalty 400 --work-duration 60000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, rootOpts, "register-remote", func(ctx context.Context, n *node) (model.AccountID, error) {
				id, err := parseAccount("device", device)
				if err != nil {
					return "", err
				}
				homeID, err := model.ParseDomainID(home)
				if err != nil {
					return "", WrapExitError(ExitCommandError, "invalid --home", err)
				}
				return id, n.engine.RegisterRemote(ctx, id, homeID, penalty, workDuration)
			})
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "device account (required)")
	cmd.Flags().StringVar(&home, "home", "", "domain hosting the device (required)")
	cmd.Flags().Uint64Var(&penalty, "penalty", 0, "penalty the device escrows per order")
	cmd.Flags().Uint64Var(&workDuration, "work-duration", 0, "minimum milliseconds the device needs per order")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("home")
	return cmd
}

// NewSetStateCommand creates the set-state command.
func NewSetStateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		as      string
		on, off bool
	)
	cmd := &cobra.Command{
		Use:   "set-state",
		Short: "Switch an idle local device on or off",
		Long: `Switch a device between Ready and Off. A device holding an order
cannot be switched.

Example:
  xchange set-state --as printer --off`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, rootOpts, "set-state", func(ctx context.Context, n *node) (model.AccountID, error) {
				device, err := parseAccount("as", as)
				if err != nil {
					return "", err
				}
				return device, n.engine.SetState(ctx, device, on)
			})
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "device account (required)")
	cmd.Flags().BoolVar(&on, "on", false, "switch to Ready")
	cmd.Flags().BoolVar(&off, "off", false, "switch to Off")
	_ = cmd.MarkFlagRequired("as")
	cmd.MarkFlagsMutuallyExclusive("on", "off")
	cmd.MarkFlagsOneRequired("on", "off")
	return cmd
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		as       string
		device   string
		fee      uint64
		deadline uint64
		payload  string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an order to a device",
		Long: `Submit an order on behalf of a local client. The fee is escrowed from
the client; a local device escrows its penalty. Orders to a mirrored
remote device are forwarded to its domain.

Example:
  xchange submit --as alice --device printer --fee 50 --deadline 1767225600000 --payload 68656c6c6f`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, rootOpts, "submit", func(ctx context.Context, n *node) (model.AccountID, error) {
				client, err := parseAccount("as", as)
				if err != nil {
					return "", err
				}
				dev, err := parseAccount("device", device)
				if err != nil {
					return "", err
				}
				data, err := hex.DecodeString(payload)
				if err != nil {
					return "", WrapExitError(ExitCommandError, "invalid --payload", err)
				}
				return dev, n.engine.Submit(ctx, client, model.OrderDescriptor{
					Deadline: deadline,
					Payload:  data,
					Fee:      fee,
					Device:   dev,
				})
			})
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "client account (required)")
	cmd.Flags().StringVar(&device, "device", "", "target device (required)")
	cmd.Flags().Uint64Var(&fee, "fee", 0, "fee paid to the device on completion")
	cmd.Flags().Uint64Var(&deadline, "deadline", 0, "deadline in milliseconds (required)")
	cmd.Flags().StringVar(&payload, "payload", "", "order payload as hex")
	_ = cmd.MarkFlagRequired("as")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("deadline")
	return cmd
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	var as, device string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Withdraw an overdue order",
		Long: `Withdraw an order whose deadline has passed. The fee returns to the
client and the device's penalty is paid to the client.

Example:
  xchange cancel --as alice --device printer`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, rootOpts, "cancel", func(ctx context.Context, n *node) (model.AccountID, error) {
				client, err := parseAccount("as", as)
				if err != nil {
					return "", err
				}
				dev, err := parseAccount("device", device)
				if err != nil {
					return "", err
				}
				return dev, n.engine.Cancel(ctx, client, dev)
			})
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "client account (required)")
	cmd.Flags().StringVar(&device, "device", "", "device holding the order (required)")
	_ = cmd.MarkFlagRequired("as")
	_ = cmd.MarkFlagRequired("device")
	return cmd
}

// NewAcceptCommand creates the accept command.
func NewAcceptCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		as         string
		reject, on bool
	)
	cmd := &cobra.Command{
		Use:   "accept",
		Short: "Accept or reject the device's pending order",
		Long: `Accept the order a Busy device holds. With --reject the order is
rejected instead and the device moves to Ready (--on) or Off.

Example:
  xchange accept --as printer
  xchange accept --as printer --reject --on`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			op := "accept"
			if reject {
				op = "reject"
			}
			return runOp(cmd, rootOpts, op, func(ctx context.Context, n *node) (model.AccountID, error) {
				device, err := parseAccount("as", as)
				if err != nil {
					return "", err
				}
				return device, n.engine.Accept(ctx, device, reject, on)
			})
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "device account (required)")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject instead of accepting")
	cmd.Flags().BoolVar(&on, "on", false, "after rejecting, stay Ready")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

// NewDoneCommand creates the done command.
func NewDoneCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		as string
		on bool
	)
	cmd := &cobra.Command{
		Use:   "done",
		Short: "Complete the device's accepted order",
		Long: `Complete an accepted order. The fee is paid to the device; the
penalty returns to the device before the deadline and goes to the client
after it.

Example:
  xchange done --as printer --on`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, rootOpts, "done", func(ctx context.Context, n *node) (model.AccountID, error) {
				device, err := parseAccount("as", as)
				if err != nil {
					return "", err
				}
				return device, n.engine.Done(ctx, device, on)
			})
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "device account (required)")
	cmd.Flags().BoolVar(&on, "on", false, "stay Ready afterwards")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

// NewCloseAccountCommand creates the close-account command.
func NewCloseAccountCommand(rootOpts *RootOptions) *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "close-account",
		Short: "Tell the engine the ledger closed an account",
		Long: `Handle the ledger closing an account. An Off device is removed; any
other local device enters Timewait.

Example:
  xchange close-account --account printer`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, rootOpts, "close-account", func(ctx context.Context, n *node) (model.AccountID, error) {
				id, err := parseAccount("account", account)
				if err != nil {
					return "", err
				}
				return id, n.engine.AccountClosed(ctx, id)
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "closed account (required)")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

// NewDepositCommand creates the deposit command.
func NewDepositCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		account string
		amount  uint64
	)
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Credit free funds to an account",
		Long: `Credit free funds to a ledger account.

Example:
  xchange deposit --account alice --amount 1000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, rootOpts, "deposit", func(ctx context.Context, n *node) (model.AccountID, error) {
				id, err := parseAccount("account", account)
				if err != nil {
					return "", err
				}
				return id, n.engine.Deposit(ctx, id, amount)
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account to credit (required)")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount to credit (required)")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}
