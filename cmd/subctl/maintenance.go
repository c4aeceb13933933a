package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/qs3c/entitlement_server/internal/model/dto"
)

func newSweepCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Downgrade users whose canceled subscription period has ended",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := st.app.Entitlements.SweepLapsed(cmd.Context())
			if err != nil {
				return err
			}
			return st.print(map[string]int64{"downgraded": n})
		},
	}
}

func newAccessCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "access [user-id]",
		Short: "Report whether a user currently has paid access",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			ok, err := st.app.Entitlements.HasAccess(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return st.print(map[string]interface{}{"user_id": userID, "entitled": ok})
		},
	}
}

func newAPIKeyCmd(st *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}

	var name, role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the plain key is printed once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := st.actor(cmd.Context())
			if err != nil {
				return err
			}
			created, err := st.app.APIKeys.Create(cmd.Context(), actor, &dto.CreateAPIKeyRequest{Name: name, Role: role})
			if err != nil {
				return err
			}
			return st.print(created)
		},
	}
	create.Flags().StringVar(&name, "name", "", "human readable key name")
	create.Flags().StringVar(&role, "role", "admin", "role granted to the key (member or admin)")

	cmd.AddCommand(create)
	return cmd
}

func newSettingsCmd(st *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and change runtime settings",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List settings with their effective values",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				settings, err := st.app.Settings.List(cmd.Context())
				if err != nil {
					return err
				}
				return st.print(settings)
			},
		},
		&cobra.Command{
			Use:   "set [key] [value]",
			Short: "Change a setting",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				setting, err := st.app.Settings.Set(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return st.print(setting)
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Delete all settings and seed the configured defaults",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := st.app.Settings.Reset(cmd.Context()); err != nil {
					return err
				}
				settings, err := st.app.Settings.List(cmd.Context())
				if err != nil {
					return err
				}
				return st.print(settings)
			},
		},
	)
	return cmd
}
