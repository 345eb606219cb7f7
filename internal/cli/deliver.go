package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// DeliverResult reports one pass over the local inbox.
type DeliverResult struct {
	Received int `json:"received"`
	Applied  int `json:"applied"`
	Dropped  int `json:"dropped"`
}

// Text renders the result for --format text.
func (r DeliverResult) Text() string {
	return fmt.Sprintf("received %d, applied %d, dropped %d", r.Received, r.Applied, r.Dropped)
}

// NewDeliverCommand creates the deliver command.
func NewDeliverCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deliver",
		Short: "Apply frames waiting in this domain's spool inbox",
		Long: `Read every frame waiting in the local spool inbox and apply it. Frames
that fail routing or decoding are logged and dropped.

Example:
  xchange deliver --spool /var/spool/xchange`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openNode(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer n.Close()
			if n.spool == nil {
				return NewExitError(ExitCommandError, "deliver requires a spool (--spool or config)")
			}
			res, err := deliverOnce(commandContext(cmd), n)
			if err != nil {
				return n.out.Failure(err)
			}
			return n.out.Success(res)
		},
	}
	return cmd
}

// deliverOnce drains the inbox through the engine directly, bypassing the
// inbound rate limiter.
func deliverOnce(ctx context.Context, n *node) (DeliverResult, error) {
	deliveries, err := n.spool.Receive(ctx)
	if err != nil {
		return DeliverResult{}, fmt.Errorf("read spool: %w", err)
	}
	res := DeliverResult{Received: len(deliveries)}
	for _, d := range deliveries {
		if err := n.engine.HandleInbound(ctx, d); err != nil {
			res.Dropped++
			continue
		}
		res.Applied++
	}
	return res, nil
}
