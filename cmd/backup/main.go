package main

import (
	"context"
	"flag"
	"os"
	"time"

	"tg-feedback-bot/internal/adapters/repo"
	"tg-feedback-bot/internal/infra/config"
	"tg-feedback-bot/internal/infra/log"
	"tg-feedback-bot/internal/infra/storage"
)

func main() {
	var (
		outPath     string
		restorePath string
	)
	flag.StringVar(&outPath, "out", "", "Путь к файлу снимка (по умолчанию backup-<дата>.json.zst)")
	flag.StringVar(&restorePath, "restore", "", "Восстановить хранилище из снимка")
	flag.Parse()

	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv, "backup")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("backup: не удалось подключить хранилище")
	}
	defer store.Close()

	if restorePath != "" {
		f, err := os.Open(restorePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("backup: не удалось открыть снимок")
		}
		defer f.Close()
		snap, err := repo.ReadSnapshot(f)
		if err != nil {
			logger.Fatal().Err(err).Msg("backup: снимок повреждён")
		}
		if err := repo.RestoreSnapshot(ctx, store.Store, snap); err != nil {
			logger.Fatal().Err(err).Msg("backup: восстановление прервано")
		}
		logger.Info().Int("documents", snap.Count()).Time("taken_at", snap.TakenAt).Msg("backup: хранилище восстановлено")
		return
	}

	now := time.Now()
	if outPath == "" {
		outPath = "backup-" + now.Format("20060102-150405") + ".json.zst"
	}
	f, err := os.Create(outPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("backup: не удалось создать файл")
	}
	snap, err := repo.WriteSnapshot(ctx, store.Store, f, now)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(outPath)
		logger.Fatal().Err(err).Msg("backup: не удалось записать снимок")
	}
	logger.Info().Str("file", outPath).Int("documents", snap.Count()).Msg("backup: снимок сохранён")
}
