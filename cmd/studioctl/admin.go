package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/repository"
)

// adminStore is the part of *repository.UserRepo create-admin needs.
type adminStore interface {
	Create(ctx context.Context, nu repository.NewUser, cost int) (uint64, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	PromoteToAdmin(ctx context.Context, id uint64) error
}

// ensureAdmin creates an ADMIN account, or promotes the existing account
// registered with the same email.  It reports whether a new account was
// created.
func ensureAdmin(ctx context.Context, users adminStore, nu repository.NewUser, cost int) (uint64, bool, error) {
	nu.Role = model.RoleAdmin
	id, err := users.Create(ctx, nu, cost)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, repository.ErrEmailExists) {
		return 0, false, err
	}
	u, err := users.GetByEmail(ctx, nu.Email)
	if err != nil {
		return 0, false, err
	}
	if u.Role != model.RoleAdmin {
		if err := users.PromoteToAdmin(ctx, u.ID); err != nil {
			return 0, false, err
		}
	}
	return u.ID, false, nil
}

func createAdminCmd() *cobra.Command {
	var (
		nu   repository.NewUser
		cost int
	)
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator, or promote an existing account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(nu.Password) < 6 {
				return fmt.Errorf("password must be at least 6 characters")
			}
			ctx, db, log, cleanup, err := session(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			id, created, err := ensureAdmin(ctx, repository.NewUserRepo(db), nu, cost)
			if err != nil {
				return err
			}
			if created {
				log.Info("admin created", zap.Uint64("user_id", id), zap.String("email", nu.Email))
			} else {
				log.Info("existing account promoted to admin", zap.Uint64("user_id", id), zap.String("email", nu.Email))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&nu.Email, "email", "", "login email")
	cmd.Flags().StringVar(&nu.Password, "password", "", "initial password")
	cmd.Flags().StringVar(&nu.FirstName, "first-name", "Studio", "first name")
	cmd.Flags().StringVar(&nu.LastName, "last-name", "Admin", "last name")
	cmd.Flags().IntVar(&cost, "bcrypt-cost", 12, "bcrypt cost factor")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
