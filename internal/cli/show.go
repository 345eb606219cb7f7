package cli

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/xchange/internal/model"
)

// DeviceView is the printed form of a device profile.
type DeviceView struct {
	Device       string `json:"device"`
	State        string `json:"state"`
	HomeDomain   string `json:"home_domain"`
	Penalty      uint64 `json:"penalty"`
	WorkDuration uint64 `json:"work_duration"`
}

// Text renders the device for --format text.
func (v DeviceView) Text() string {
	return fmt.Sprintf("%s: %s home=%s penalty=%d work_duration=%d",
		v.Device, v.State, v.HomeDomain, v.Penalty, v.WorkDuration)
}

// OrderView is the printed form of an order.
type OrderView struct {
	Device       string `json:"device"`
	Client       string `json:"client"`
	ClientDomain string `json:"client_domain"`
	Fee          uint64 `json:"fee"`
	Deadline     uint64 `json:"deadline"`
	Payload      string `json:"payload"`
}

// Text renders the order for --format text.
func (v OrderView) Text() string {
	return fmt.Sprintf("%s: client=%s@%s fee=%d deadline=%d payload=%s",
		v.Device, v.Client, v.ClientDomain, v.Fee, v.Deadline, v.Payload)
}

// BalanceView is the printed form of a ledger balance.
type BalanceView struct {
	Account  string `json:"account"`
	Free     uint64 `json:"free"`
	Reserved uint64 `json:"reserved"`
}

// Text renders the balance for --format text.
func (v BalanceView) Text() string {
	return fmt.Sprintf("%s: free=%d reserved=%d", v.Account, v.Free, v.Reserved)
}

// EventList is the printed form of the event log.
type EventList struct {
	Events []model.Event `json:"events"`
}

// Text renders one event per line.
func (l EventList) Text() string {
	if len(l.Events) == 0 {
		return "No events."
	}
	var b strings.Builder
	for i, ev := range l.Events {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d %s", ev.Seq, ev.Kind)
		if ev.Device != "" {
			fmt.Fprintf(&b, " device=%s", ev.Device)
		}
		if ev.Client != "" {
			fmt.Fprintf(&b, " client=%s", ev.Client)
		}
		if ev.Peer != "" {
			fmt.Fprintf(&b, " peer=%s", ev.Peer)
		}
		if ev.Detail != "" {
			fmt.Fprintf(&b, " %s", ev.Detail)
		}
	}
	return b.String()
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show device|order|balance <account>",
		Short: "Show a device, order or balance",
		Long: `Show the stored state of one account.

Example:
  xchange show device printer
  xchange show order printer
  xchange show balance alice --format json`,
		Args:          cobra.ExactArgs(2),
		ValidArgs:     []string{"device", "order", "balance"},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, rootOpts, args[0], args[1])
		},
	}
	return cmd
}

func runShow(cmd *cobra.Command, opts *RootOptions, what, raw string) error {
	switch what {
	case "device", "order", "balance":
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown object %q: must be device, order or balance", what))
	}
	account, err := parseAccount("account", raw)
	if err != nil {
		return err
	}

	n, err := openNode(cmd, opts)
	if err != nil {
		return err
	}
	defer n.Close()
	ctx := commandContext(cmd)

	switch what {
	case "device":
		p, ok, err := n.engine.Device(ctx, account)
		if err != nil {
			return n.out.Failure(err)
		}
		if !ok {
			return notFound(n, "NO_DEVICE", "device %s not registered", account)
		}
		return n.out.Success(DeviceView{
			Device:       string(account),
			State:        p.State.String(),
			HomeDomain:   string(p.HomeDomain),
			Penalty:      p.Penalty,
			WorkDuration: p.WorkDuration,
		})

	case "order":
		o, ok, err := n.engine.Order(ctx, account)
		if err != nil {
			return n.out.Failure(err)
		}
		if !ok {
			return notFound(n, "NO_ORDER", "no active order on %s", account)
		}
		return n.out.Success(OrderView{
			Device:       string(account),
			Client:       string(o.Client),
			ClientDomain: string(o.ClientDomain),
			Fee:          o.Fee,
			Deadline:     o.Deadline,
			Payload:      hex.EncodeToString(o.Payload),
		})

	default:
		b, err := n.engine.Balance(ctx, account)
		if err != nil {
			return n.out.Failure(err)
		}
		return n.out.Success(BalanceView{Account: string(account), Free: b.Free, Reserved: b.Reserved})
	}
}

func notFound(n *node, code string, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if err := n.out.Error(code, msg, nil); err != nil {
		return err
	}
	return NewExitError(ExitFailure, msg)
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	var since int64
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List the event log",
		Long: `List recorded events in seq order.

Example:
  xchange events
  xchange events --since 42 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openNode(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer n.Close()
			events, err := n.engine.Events(commandContext(cmd), since)
			if err != nil {
				return n.out.Failure(err)
			}
			return n.out.Success(EventList{Events: events})
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "only events with seq above this")
	return cmd
}
