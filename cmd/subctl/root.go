package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/entitlement_server/config"
	"github.com/qs3c/entitlement_server/internal/app"
	"github.com/qs3c/entitlement_server/internal/model"
	"github.com/qs3c/entitlement_server/internal/pkg/logger"
)

type cliState struct {
	configPath string
	operatorID int64
	out        io.Writer

	app    *app.App
	opened bool
}

func newRootCmd(st *cliState) *cobra.Command {
	root := &cobra.Command{
		Use:   "subctl",
		Short: "Operate subscriptions from the command line",
		Long: `subctl runs subscription lifecycle operations against the configured
database and payment processor, attributed to an operator user.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if st.app != nil {
				return nil
			}
			cfg, err := config.Load(st.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			zl, err := logger.New(cfg.Log)
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, zl)
			if err != nil {
				return err
			}
			st.app = a
			st.opened = true
			return nil
		},
	}

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}
	root.PersistentFlags().StringVarP(&st.configPath, "config", "c", defaultConfig, "config file path")
	root.PersistentFlags().Int64Var(&st.operatorID, "operator", 0, "user id the operation is attributed to")

	root.AddCommand(
		newCancelCmd(st),
		newReactivateCmd(st),
		newRefundCmd(st),
		newSweepCmd(st),
		newAccessCmd(st),
		newAPIKeyCmd(st),
		newSettingsCmd(st),
	)
	return root
}

// execute 运行命令；无论成功与否都释放本次打开的连接
func execute(st *cliState, args []string) error {
	root := newRootCmd(st)
	root.SetArgs(args)
	defer st.close()
	return root.Execute()
}

func (st *cliState) close() {
	if !st.opened {
		return
	}
	st.app.Close()
	_ = st.app.Logger.Sync()
	st.opened = false
}

// actor 解析 --operator 对应的用户，角色以数据库为准
func (st *cliState) actor(ctx context.Context) (*model.Actor, error) {
	if st.operatorID == 0 {
		return nil, errors.New("--operator is required")
	}
	user, err := st.app.Users.GetByID(ctx, st.operatorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("operator %d not found", st.operatorID)
		}
		return nil, err
	}
	role, err := model.ParseRole(string(user.Role))
	if err != nil {
		return nil, err
	}
	st.app.Logger.Debug("operator resolved", zap.Int64("user_id", user.ID), zap.String("role", string(role)))
	return &model.Actor{UserID: user.ID, Role: role}, nil
}

func (st *cliState) print(v interface{}) error {
	enc := json.NewEncoder(st.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
