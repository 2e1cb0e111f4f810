// user.go — административные команды управления учётными записями.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arturkryukov/ankisyncd/internal/auth"
	"github.com/arturkryukov/ankisyncd/internal/config"
)

func init() {
	userCmd.AddCommand(userAddCmd, userDelCmd, userListCmd, userPasswdCmd)
	rootCmd.AddCommand(userCmd)
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Управление учётными записями",
}

// openAuthStore открывает базу учётных записей по конфигурации
// из окружения.
func openAuthStore() (*auth.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}
	logger := config.SetupLogger(cfg)
	return auth.NewStore(cfg.AuthDBPath, logger)
}

var userAddCmd = &cobra.Command{
	Use:   "add <имя> <пароль>",
	Short: "Создать учётную запись",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openAuthStore()
		if err != nil {
			return err
		}
		defer store.Close()
		return store.AddUser(args[0], args[1])
	},
}

var userDelCmd = &cobra.Command{
	Use:   "del <имя>...",
	Short: "Удалить учётные записи",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openAuthStore()
		if err != nil {
			return err
		}
		defer store.Close()
		for _, name := range args {
			if err := store.DelUser(name); err != nil {
				return err
			}
		}
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "Список учётных записей",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openAuthStore()
		if err != nil {
			return err
		}
		defer store.Close()

		users, err := store.ListUsers()
		if err != nil {
			return err
		}
		for _, name := range users {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var userPasswdCmd = &cobra.Command{
	Use:   "passwd <имя> <пароль>",
	Short: "Сменить пароль",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openAuthStore()
		if err != nil {
			return err
		}
		defer store.Close()
		return store.SetPassword(args[0], args[1])
	},
}
