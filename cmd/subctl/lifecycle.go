package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/qs3c/entitlement_server/internal/service"
)

func newCancelCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [subscription-id]",
		Short: "Cancel a subscription at the end of its period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := st.actor(cmd.Context())
			if err != nil {
				return err
			}
			info, err := st.app.Lifecycle.Cancel(cmd.Context(), args[0], actor)
			if err != nil {
				return err
			}
			return st.print(info)
		},
	}
}

func newReactivateCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "reactivate [subscription-id]",
		Short: "Reactivate a canceled or past-due subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := st.actor(cmd.Context())
			if err != nil {
				return err
			}
			info, err := st.app.Lifecycle.Reactivate(cmd.Context(), args[0], actor)
			if err != nil {
				return err
			}
			return st.print(info)
		},
	}
}

func newRefundCmd(st *cliState) *cobra.Command {
	var (
		amount         int64
		reason         string
		idempotencyKey string
	)

	cmd := &cobra.Command{
		Use:   "refund [subscription-id]",
		Short: "Refund part or all of the current period",
		Long: `Refund an amount in minor currency units. Refunding the plan's maximum
refundable amount also cancels the subscription.

Examples:
  subctl refund 6f1c... --operator 1 --amount 500 --reason "duplicate charge"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("amount") {
				return errors.New("--amount is required")
			}
			actor, err := st.actor(cmd.Context())
			if err != nil {
				return err
			}
			result, err := st.app.Lifecycle.Refund(cmd.Context(), args[0], service.RefundInput{
				Amount:         amount,
				Reason:         reason,
				IdempotencyKey: idempotencyKey,
			}, actor)
			if err != nil {
				return err
			}
			return st.print(result)
		},
	}

	cmd.Flags().Int64Var(&amount, "amount", 0, "amount in minor currency units")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the refund")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "replays return the original refund")
	return cmd
}
