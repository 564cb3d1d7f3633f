package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/netwatch-nms/netwatch/pkg/auth"
	"github.com/netwatch-nms/netwatch/pkg/model"
	"github.com/netwatch-nms/netwatch/pkg/store"
	"github.com/netwatch-nms/netwatch/pkg/util"
)

var (
	userEmail string
	userRole  string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create an account, prompting for the password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]

		password, err := promptPassword()
		if err != nil {
			return err
		}
		if err := auth.ValidatePasswordPolicy(password); err != nil {
			return err
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			return fmt.Errorf("hashing password: %w", err)
		}

		st, err := store.Open(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer st.Close()

		user, err := st.Users.Create(cmd.Context(), &model.User{
			Username:     username,
			Email:        userEmail,
			PasswordHash: hash,
			Role:         userRole,
		})
		if err != nil {
			return err
		}
		util.WithField("user", user.Username).Info("account created")
		return nil
	},
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	fmt.Fprint(os.Stderr, "Confirm:  ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	return strings.TrimSpace(string(first)), nil
}

func init() {
	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "Account email")
	userCreateCmd.Flags().StringVar(&userRole, "role", "user", "Account role")
	userCmd.AddCommand(userCreateCmd)
}
