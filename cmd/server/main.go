package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"outreach/internal/config"
	"outreach/server"
)

func main() {
	log.Println("Запуск сервера кампании mytravel.kz...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	log.Printf("Конфигурация загружена. Порт: %s, журнал: %s", cfg.Port, cfg.LedgerDatabasePath)

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Ошибка создания сервера: %v", err)
	}

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("Ошибка сервера: %v", err)
		}
	}()

	// Ожидаем сигнал остановки
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Ошибка остановки сервера: %v", err)
	}
	log.Println("Сервер остановлен")
}
