// root.go — корневая команда CLI: запуск сервера синхронизации.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arturkryukov/ankisyncd/internal/api/handlers"
	"github.com/arturkryukov/ankisyncd/internal/auth"
	"github.com/arturkryukov/ankisyncd/internal/collection"
	"github.com/arturkryukov/ankisyncd/internal/config"
	"github.com/arturkryukov/ankisyncd/internal/media"
	"github.com/arturkryukov/ankisyncd/internal/server"
	"github.com/arturkryukov/ankisyncd/internal/session"
)

var rootCmd = &cobra.Command{
	Use:     "ankisyncd",
	Short:   "Сервер синхронизации Anki",
	Long:    "Самостоятельный сервер синхронизации коллекций и медиафайлов Anki.\nКонфигурация задаётся переменными окружения ANKISYNCD_*.",
	Version: config.Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
	SilenceUsage: true,
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}
	logger := config.SetupLogger(cfg)

	if err := os.MkdirAll(cfg.DataRoot, 0o750); err != nil {
		return fmt.Errorf("не удалось создать корневой каталог данных: %w", err)
	}

	authStore, err := auth.NewStore(cfg.AuthDBPath, logger)
	if err != nil {
		return err
	}
	defer authStore.Close()

	// Учётная запись по умолчанию из окружения, если её ещё нет.
	if cfg.DefaultUsername != "" {
		if err := authStore.EnsureUser(cfg.DefaultUsername, cfg.DefaultPassword); err != nil {
			return err
		}
	}

	sessions, err := session.NewStore(cfg.SessionDBPath, cfg.SessionCacheSize, logger)
	if err != nil {
		return err
	}
	defer sessions.Close()

	mediaReg := media.NewRegistry(logger)
	defer mediaReg.Close()

	collections := collection.NewManager(collection.Unimplemented{})
	defer collections.Close()

	h := handlers.New(cfg, authStore, sessions, mediaReg, collections, logger)
	return server.New(cfg, logger, h).Run()
}
