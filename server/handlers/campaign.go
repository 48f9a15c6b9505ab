package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"outreach/classification"
	"outreach/composer"
	"outreach/contacts"
	"outreach/export"
	"outreach/importer"
	"outreach/internal/config"
	"outreach/ledger"
	"outreach/messenger"
	"outreach/scheduler"
	apperrors "outreach/server/errors"
)

// CampaignHandler HTTP обработчик этапов кампании
type CampaignHandler struct {
	config       *config.Config
	ledger       *ledger.Ledger
	normalizer   *contacts.Normalizer
	deduplicator *contacts.Deduplicator
	classifier   *classification.Classifier
	composer     *composer.Composer
	channel      messenger.Channel

	mu        sync.Mutex
	scheduler *scheduler.Scheduler
	running   bool
}

// NewCampaignHandler создает обработчик кампании
func NewCampaignHandler(
	cfg *config.Config,
	l *ledger.Ledger,
	classifier *classification.Classifier,
	comp *composer.Composer,
	channel messenger.Channel,
) *CampaignHandler {
	return &CampaignHandler{
		config:     cfg,
		ledger:     l,
		normalizer: contacts.NewNormalizer(cfg.DefaultPhoneRegion),
		deduplicator: contacts.NewDeduplicator(contacts.DeduplicatorConfig{
			NameThreshold:    cfg.NameSimilarityThreshold,
			AddressThreshold: cfg.AddressSimilarityThreshold,
			Weights:          contacts.DefaultSimilarityWeights(),
		}),
		classifier: classifier,
		composer:   comp,
		channel:    channel,
	}
}

// ImportRequest запрос на загрузку контактов: либо список записей в теле,
// либо путь к файлу экспорта сборщика
type ImportRequest struct {
	Contacts []contacts.RawContact `json:"contacts"`
	FilePath string                `json:"file_path"`
	Format   string                `json:"format"` // places_csv | instagram_html
}

// ImportResponse итог загрузки контактов
type ImportResponse struct {
	Received           int `json:"received"`
	Canonical          int `json:"canonical"`
	UnresolvablePhones int `json:"unresolvable_phones"`
	Skipped            int `json:"skipped"`
}

// HandleImportContacts загружает сырые контакты, нормализует, дедуплицирует
// и сохраняет в журнал кампании
// POST /api/contacts/import
func (h *CampaignHandler) HandleImportContacts(c *gin.Context) {
	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleError(c, apperrors.NewValidationError("неверный формат тела запроса", err))
		return
	}

	startSeq, err := h.ledger.NextSeq()
	if err != nil {
		HandleError(c, apperrors.NewInternalError("не удалось прочитать журнал", err))
		return
	}

	// Записям из тела запроса без порядковых номеров присваиваем позиционные
	raw := req.Contacts
	for i := range raw {
		if raw[i].Seq == 0 {
			raw[i].Seq = startSeq + i
		}
	}

	if req.FilePath != "" {
		parsed, err := parseExportFile(req.FilePath, req.Format, startSeq+len(raw))
		if err != nil {
			HandleError(c, err)
			return
		}
		raw = append(raw, parsed...)
	}
	if len(raw) == 0 {
		HandleError(c, apperrors.NewValidationError("нет контактов для загрузки", nil))
		return
	}

	response := ImportResponse{Received: len(raw)}
	normalized := make([]contacts.NormalizedContact, 0, len(raw))
	for _, record := range raw {
		n, err := h.normalizer.Normalize(record)
		if err != nil {
			if errors.Is(err, contacts.ErrUnresolvablePhone) {
				response.UnresolvablePhones++
			} else {
				response.Skipped++
				continue
			}
		}
		normalized = append(normalized, n)
	}

	canonical := h.deduplicator.Dedup(normalized)
	for _, contact := range canonical {
		if err := h.ledger.UpsertContact(contact); err != nil {
			HandleError(c, apperrors.NewInternalError("не удалось сохранить контакт", err))
			return
		}
	}
	response.Canonical = len(canonical)

	log.Printf("[Campaign] Imported %d raw contacts -> %d canonical", response.Received, response.Canonical)
	SendJSONResponse(c, http.StatusOK, response)
}

// parseExportFile парсит файл экспорта сборщика по указанному формату
func parseExportFile(filePath, format string, startSeq int) ([]contacts.RawContact, *apperrors.AppError) {
	switch format {
	case "places_csv":
		parsed, err := importer.ParsePlacesCSVFile(filePath, startSeq)
		if err != nil {
			return nil, apperrors.NewValidationError("не удалось разобрать файл мест", err)
		}
		return parsed, nil
	case "instagram_html":
		parsed, err := importer.ParseInstagramHTMLFile(filePath, startSeq)
		if err != nil {
			return nil, apperrors.NewValidationError("не удалось разобрать файл профилей", err)
		}
		return parsed, nil
	default:
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("неизвестный формат файла: %s, ожидается places_csv или instagram_html", format), nil)
	}
}

// ClassifyResponse итог этапа классификации
type ClassifyResponse struct {
	Processed   int            `json:"processed"`
	ByVenueType map[string]int `json:"by_venue_type"`
	Errors      int            `json:"errors"`
}

// HandleClassify классифицирует контакты в состоянии NEW
// POST /api/campaign/classify
func (h *CampaignHandler) HandleClassify(c *gin.Context) {
	records, err := h.ledger.ListByState(ledger.StateNew)
	if err != nil {
		HandleError(c, apperrors.NewInternalError("не удалось прочитать журнал", err))
		return
	}

	response := ClassifyResponse{ByVenueType: make(map[string]int)}
	ctx := c.Request.Context()
	var mu sync.Mutex
	var wg sync.WaitGroup
	jobs := make(chan ledger.ContactRecord)

	workers := h.config.ClassifyWorkers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for record := range jobs {
				// Обрыв клиента не классифицирует остаток очереди
				if ctx.Err() != nil {
					continue
				}
				h.classifyOne(ctx, record, &response, &mu)
			}
		}()
	}

	for _, record := range records {
		jobs <- record
	}
	close(jobs)
	wg.Wait()

	log.Printf("[Campaign] Classified %d contacts (%d errors)", response.Processed, response.Errors)
	SendJSONResponse(c, http.StatusOK, response)
}

// classifyOne классифицирует один контакт и фиксирует переход состояния
func (h *CampaignHandler) classifyOne(ctx context.Context, record ledger.ContactRecord, response *ClassifyResponse, mu *sync.Mutex) {
	result, err := h.classifier.Classify(ctx, record.Contact)
	if err != nil {
		log.Printf("[Campaign] Classification failed for %s: %v", record.Contact.ContactID, err)
		mu.Lock()
		response.Errors++
		mu.Unlock()
		return
	}

	if err := h.ledger.Transition(record.Contact.ContactID, ledger.StateNew, ledger.StateClassified); err != nil {
		if !errors.Is(err, ledger.ErrStaleTransition) {
			log.Printf("[Campaign] Failed to mark %s classified: %v", record.Contact.ContactID, err)
			mu.Lock()
			response.Errors++
			mu.Unlock()
		}
		return
	}

	mu.Lock()
	response.Processed++
	response.ByVenueType[string(result.VenueType)]++
	mu.Unlock()
}

// ComposeResponse итог этапа композиции
type ComposeResponse struct {
	Composed       int `json:"composed"`
	SkippedUnknown int `json:"skipped_unknown"`
	Errors         int `json:"errors"`
}

// HandleCompose собирает сообщения для классифицированных контактов
// POST /api/campaign/compose
func (h *CampaignHandler) HandleCompose(c *gin.Context) {
	records, err := h.ledger.ListByState(ledger.StateClassified)
	if err != nil {
		HandleError(c, apperrors.NewInternalError("не удалось прочитать журнал", err))
		return
	}

	var response ComposeResponse
	for _, record := range records {
		result, err := h.ledger.GetClassification(record.Contact.ContactID)
		if err != nil {
			HandleError(c, apperrors.NewInternalError("не удалось прочитать классификацию", err))
			return
		}
		if result == nil {
			response.Errors++
			continue
		}

		message, err := h.composer.Compose(record.Contact, result.VenueType)
		if err != nil {
			if errors.Is(err, composer.ErrMissingTemplate) {
				response.SkippedUnknown++
				continue
			}
			log.Printf("[Campaign] Compose failed for %s: %v", record.Contact.ContactID, err)
			response.Errors++
			continue
		}

		if err := h.ledger.SaveMessage(record.Contact.ContactID, message); err != nil {
			HandleError(c, apperrors.NewInternalError("не удалось сохранить сообщение", err))
			return
		}
		if err := h.ledger.Transition(record.Contact.ContactID, ledger.StateClassified, ledger.StateComposed); err != nil {
			if !errors.Is(err, ledger.ErrStaleTransition) {
				log.Printf("[Campaign] Failed to mark %s composed: %v", record.Contact.ContactID, err)
				response.Errors++
			}
			continue
		}
		response.Composed++
	}

	log.Printf("[Campaign] Composed %d messages (%d unknown skipped)", response.Composed, response.SkippedUnknown)
	SendJSONResponse(c, http.StatusOK, response)
}

// HandleRunCampaign запускает планировщик отправки в фоне
// POST /api/campaign/run
func (h *CampaignHandler) HandleRunCampaign(c *gin.Context) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		HandleError(c, apperrors.NewConflictError("кампания уже запущена", nil))
		return
	}

	sched := scheduler.NewScheduler(h.ledger, h.channel, scheduler.Config{
		RatePerMinute: h.config.SendRatePerMinute,
		MaxRetries:    h.config.SendMaxRetries,
		BackoffBase:   h.config.SendBackoffBase,
		BackoffCap:    h.config.SendBackoffCap,
		Workers:       h.config.SenderWorkers,
	})
	h.scheduler = sched
	h.running = true
	h.mu.Unlock()

	go func() {
		report, err := sched.Run(context.Background())
		if err != nil {
			log.Printf("[Campaign] Send run aborted: %v", err)
		}
		log.Printf("[Campaign] Send run done: sent=%d failed=%d deferred=%d",
			report.Sent, report.FailedPermanent, report.Deferred)

		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
	}()

	SendJSONResponse(c, http.StatusAccepted, gin.H{"status": "started"})
}

// HandleStopCampaign мягко останавливает запущенную рассылку
// POST /api/campaign/stop
func (h *CampaignHandler) HandleStopCampaign(c *gin.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running || h.scheduler == nil {
		HandleError(c, apperrors.NewConflictError("кампания не запущена", nil))
		return
	}

	h.scheduler.Stop()
	SendJSONResponse(c, http.StatusOK, gin.H{"status": "stopping"})
}

// HandleGetContact возвращает контакт с состоянием и журналом попыток
// GET /api/contacts/:id
func (h *CampaignHandler) HandleGetContact(c *gin.Context) {
	contactID := c.Param("id")

	record, err := h.ledger.GetRecord(contactID)
	if err != nil {
		if errors.Is(err, ledger.ErrContactNotFound) {
			HandleError(c, apperrors.NewNotFoundError("контакт не найден", err).
				WithContext(fmt.Sprintf("HandleGetContact(%s)", contactID)))
			return
		}
		HandleError(c, apperrors.NewInternalError("не удалось прочитать контакт", err))
		return
	}

	attempts, err := h.ledger.ListAttempts(contactID)
	if err != nil {
		HandleError(c, apperrors.NewInternalError("не удалось прочитать журнал попыток", err))
		return
	}

	SendJSONResponse(c, http.StatusOK, gin.H{
		"contact":  record.Contact,
		"state":    record.State,
		"message":  record.Message,
		"attempts": attempts,
	})
}

// HandleStats возвращает агрегированную статистику кампании
// GET /api/campaign/stats
func (h *CampaignHandler) HandleStats(c *gin.Context) {
	stats, err := h.ledger.GetStats()
	if err != nil {
		HandleError(c, apperrors.NewInternalError("не удалось собрать статистику", err))
		return
	}
	SendJSONResponse(c, http.StatusOK, stats)
}

// HandleExport отдает отчет кампании в запрошенном формате
// GET /api/export?format=json|csv|excel
func (h *CampaignHandler) HandleExport(c *gin.Context) {
	format := export.ExportFormat(c.DefaultQuery("format", "json"))
	exporter := export.NewExporter(h.ledger)

	var ext string
	switch format {
	case export.FormatJSON:
		ext = "json"
	case export.FormatCSV:
		ext = "csv"
	case export.FormatExcel:
		ext = "xlsx"
	default:
		HandleError(c, apperrors.NewValidationError(
			fmt.Sprintf("неизвестный формат экспорта: %s", format), nil))
		return
	}

	filename := filepath.Join(os.TempDir(), fmt.Sprintf("campaign_report_%d.%s", time.Now().UnixNano(), ext))
	defer os.Remove(filename)

	var err error
	switch format {
	case export.FormatJSON:
		err = exporter.ExportToJSON(filename)
	case export.FormatCSV:
		err = exporter.ExportToCSV(filename)
	case export.FormatExcel:
		err = exporter.ExportToExcel(filename)
	}
	if err != nil {
		HandleError(c, apperrors.NewInternalError("не удалось сформировать отчет", err))
		return
	}

	c.FileAttachment(filename, "campaign_report."+ext)
}
