package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/omnibus_custody/model"
	"github.com/omnibus_custody/repository"
)

func userCommand(opts *rootOptions) *cobra.Command {
	c := &cobra.Command{
		Use:   "user",
		Short: "Manages operator accounts",
	}
	c.AddCommand(userAddCommand(opts))
	return c
}

type userAddFlags struct {
	email    string
	password string
	role     string
}

func userAddCommand(opts *rootOptions) *cobra.Command {
	f := &userAddFlags{}
	c := &cobra.Command{
		Use:   "add",
		Short: "Creates a user with a bcrypt password hash",
		RunE: func(c *cobra.Command, _ []string) error {
			u, err := f.user()
			if err != nil {
				return err
			}
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			db, err := openDB(cfg, log)
			if err != nil {
				return err
			}
			if err := repository.NewUserRepository(db).Create(c.Context(), u); err != nil {
				if errors.Is(err, repository.ErrDuplicate) {
					return fmt.Errorf("user %s already exists", u.Email)
				}
				return err
			}
			log.Info().Str("user_id", u.ID).Str("email", u.Email).Str("role", string(u.Role)).Msg("user created")
			fmt.Fprintln(c.OutOrStdout(), u.ID)
			return nil
		},
	}
	flags := c.Flags()
	flags.StringVar(&f.email, "email", "", "login email")
	flags.StringVar(&f.password, "password", "", "password (min 8 characters)")
	flags.StringVar(&f.role, "role", string(model.RoleUser), "user or admin")
	_ = c.MarkFlagRequired("email")
	_ = c.MarkFlagRequired("password")
	return c
}

func (f *userAddFlags) user() (*model.User, error) {
	role := model.Role(f.role)
	if role != model.RoleUser && role != model.RoleAdmin {
		return nil, fmt.Errorf("role must be %q or %q", model.RoleUser, model.RoleAdmin)
	}
	if len(f.password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(f.password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &model.User{
		Email:    repository.NormalizeEmail(f.email),
		Password: string(hash),
		Role:     role,
	}, nil
}
