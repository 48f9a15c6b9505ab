package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"outreach/classification"
	"outreach/composer"
	"outreach/contacts"
	"outreach/export"
	"outreach/importer"
	"outreach/internal/config"
	"outreach/ledger"
	"outreach/messenger"
	"outreach/scheduler"
)

func main() {
	placesFile := flag.String("places", "", "Путь к CSV экспорту мест 2GIS")
	profilesFile := flag.String("profiles", "", "Путь к HTML экспорту профилей Instagram")
	reportFile := flag.String("report", "", "Путь для отчета кампании (json/csv/xlsx по расширению)")
	skipSend := flag.Bool("skip-send", false, "Остановиться после композиции, без отправки")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	campaignLedger, err := ledger.Open(cfg.LedgerDatabasePath)
	if err != nil {
		log.Fatalf("Ошибка открытия журнала: %v", err)
	}
	defer campaignLedger.Close()

	// Прогон можно прервать по Ctrl+C: начатые попытки доводятся до журнала
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *placesFile != "" || *profilesFile != "" {
		importFiles(cfg, campaignLedger, *placesFile, *profilesFile)
	}

	classifyStage(ctx, cfg, campaignLedger)
	composeStage(cfg, campaignLedger)

	if !*skipSend {
		sendStage(ctx, cfg, campaignLedger)
	}

	if *reportFile != "" {
		writeReport(campaignLedger, *reportFile)
	}

	stats, err := campaignLedger.GetStats()
	if err != nil {
		log.Fatalf("Ошибка чтения статистики: %v", err)
	}
	log.Printf("Итог кампании: всего=%d, по состояниям=%v", stats.Total, stats.ByState)
}

// importFiles загружает экспорты сборщиков в журнал кампании
func importFiles(cfg *config.Config, campaignLedger *ledger.Ledger, placesFile, profilesFile string) {
	startSeq, err := campaignLedger.NextSeq()
	if err != nil {
		log.Fatalf("Ошибка чтения журнала: %v", err)
	}

	var raw []contacts.RawContact
	if placesFile != "" {
		parsed, err := importer.ParsePlacesCSVFile(placesFile, startSeq)
		if err != nil {
			log.Fatalf("Ошибка разбора файла мест: %v", err)
		}
		raw = append(raw, parsed...)
	}
	if profilesFile != "" {
		parsed, err := importer.ParseInstagramHTMLFile(profilesFile, startSeq+len(raw))
		if err != nil {
			log.Fatalf("Ошибка разбора файла профилей: %v", err)
		}
		raw = append(raw, parsed...)
	}

	normalizer := contacts.NewNormalizer(cfg.DefaultPhoneRegion)
	normalized := make([]contacts.NormalizedContact, 0, len(raw))
	unresolvable := 0
	for _, record := range raw {
		n, err := normalizer.Normalize(record)
		if err != nil {
			if errors.Is(err, contacts.ErrUnresolvablePhone) {
				unresolvable++
			} else {
				continue
			}
		}
		normalized = append(normalized, n)
	}

	deduplicator := contacts.NewDeduplicator(contacts.DeduplicatorConfig{
		NameThreshold:    cfg.NameSimilarityThreshold,
		AddressThreshold: cfg.AddressSimilarityThreshold,
		Weights:          contacts.DefaultSimilarityWeights(),
	})
	canonical := deduplicator.Dedup(normalized)
	for _, contact := range canonical {
		if err := campaignLedger.UpsertContact(contact); err != nil {
			log.Fatalf("Ошибка сохранения контакта %s: %v", contact.ContactID, err)
		}
	}
	log.Printf("Загружено %d записей -> %d контактов (%d без телефона)", len(raw), len(canonical), unresolvable)
}

// classifyStage классифицирует контакты в состоянии NEW
func classifyStage(ctx context.Context, cfg *config.Config, campaignLedger *ledger.Ledger) {
	aiClient := classification.NewAIClient(classification.AIClientConfig{
		APIKey:  cfg.AIAPIKey,
		Model:   cfg.AIModel,
		BaseURL: cfg.AIBaseURL,
		Timeout: cfg.AITimeout,
	})
	classifier := classification.NewClassifier(aiClient, campaignLedger, classification.ClassifierConfig{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		MaxAttempts:         cfg.AIMaxAttempts,
	})

	records, err := campaignLedger.ListByState(ledger.StateNew)
	if err != nil {
		log.Fatalf("Ошибка чтения журнала: %v", err)
	}

	classified := 0
	for _, record := range records {
		if ctx.Err() != nil {
			log.Println("Классификация прервана")
			return
		}
		result, err := classifier.Classify(ctx, record.Contact)
		if err != nil {
			log.Printf("Классификация %s не удалась: %v", record.Contact.ContactID, err)
			continue
		}
		if err := campaignLedger.Transition(record.Contact.ContactID, ledger.StateNew, ledger.StateClassified); err != nil {
			log.Printf("Переход %s не удался: %v", record.Contact.ContactID, err)
			continue
		}
		classified++
		log.Printf("%s: %s (%.2f)", record.Contact.Name, result.VenueType, result.Confidence)
	}
	log.Printf("Классифицировано контактов: %d", classified)
}

// composeStage собирает сообщения для классифицированных контактов
func composeStage(cfg *config.Config, campaignLedger *ledger.Ledger) {
	comp, err := composer.NewComposer(cfg.SendUnknownOverride)
	if err != nil {
		log.Fatalf("Ошибка создания композера: %v", err)
	}

	records, err := campaignLedger.ListByState(ledger.StateClassified)
	if err != nil {
		log.Fatalf("Ошибка чтения журнала: %v", err)
	}

	composed, skipped := 0, 0
	for _, record := range records {
		result, err := campaignLedger.GetClassification(record.Contact.ContactID)
		if err != nil {
			log.Fatalf("Ошибка чтения классификации: %v", err)
		}
		if result == nil {
			continue
		}

		message, err := comp.Compose(record.Contact, result.VenueType)
		if err != nil {
			if errors.Is(err, composer.ErrMissingTemplate) {
				skipped++
				continue
			}
			log.Printf("Композиция %s не удалась: %v", record.Contact.ContactID, err)
			continue
		}

		if err := campaignLedger.SaveMessage(record.Contact.ContactID, message); err != nil {
			log.Fatalf("Ошибка сохранения сообщения: %v", err)
		}
		if err := campaignLedger.Transition(record.Contact.ContactID, ledger.StateClassified, ledger.StateComposed); err != nil {
			log.Printf("Переход %s не удался: %v", record.Contact.ContactID, err)
			continue
		}
		composed++
	}
	log.Printf("Собрано сообщений: %d (пропущено unknown: %d)", composed, skipped)
}

// sendStage выполняет рассылку через WhatsApp шлюз
func sendStage(ctx context.Context, cfg *config.Config, campaignLedger *ledger.Ledger) {
	channel := messenger.NewWhatsAppGateway(messenger.WhatsAppGatewayConfig{
		BaseURL: cfg.WhatsAppGatewayURL,
		Timeout: cfg.WhatsAppTimeout,
	})

	sched := scheduler.NewScheduler(campaignLedger, channel, scheduler.Config{
		RatePerMinute: cfg.SendRatePerMinute,
		MaxRetries:    cfg.SendMaxRetries,
		BackoffBase:   cfg.SendBackoffBase,
		BackoffCap:    cfg.SendBackoffCap,
		Workers:       cfg.SenderWorkers,
	})

	go func() {
		<-ctx.Done()
		sched.Stop()
	}()

	report, err := sched.Run(context.Background())
	if err != nil {
		log.Printf("Рассылка прервана: %v", err)
	}
	log.Printf("Рассылка завершена: отправлено=%d, отказов=%d, отложено=%d",
		report.Sent, report.FailedPermanent, report.Deferred)
}

// writeReport сохраняет отчет кампании, формат определяется расширением
func writeReport(campaignLedger *ledger.Ledger, path string) {
	exporter := export.NewExporter(campaignLedger)

	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		err = exporter.ExportToCSV(path)
	case ".xlsx":
		err = exporter.ExportToExcel(path)
	default:
		err = exporter.ExportToJSON(path)
	}
	if err != nil {
		log.Fatalf("Ошибка записи отчета: %v", err)
	}
	log.Printf("Отчет сохранен: %s", path)
}
