// Package queue implements the durable at-least-once submission worker —
// the core's centerpiece. One worker invocation claims a batch of
// pending items and drives each through fetch, profile resolution,
// signing, mTLS submission, classification, and receipt persistence,
// with at most five items in flight at once.
package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"fiscalcore/breaker"
	"fiscalcore/canon"
	"fiscalcore/classify"
	"fiscalcore/domain"
	"fiscalcore/logging"
	"fiscalcore/mtls"
	"fiscalcore/profile"
	"fiscalcore/store"
)

// MaxConcurrency is the bounded fanout the worker enforces across items
// in one batch: at most five in flight in parallel.
const MaxConcurrency = 5

// DefaultBatchSize is the default number of pending items one invocation
// consumes.
const DefaultBatchSize = 20

// EntitySource fetches the finalized business objects the core signs and
// submits. The core never constructs these itself — it receives them
// from whatever upstream POS system finalized the order or closing.
type EntitySource interface {
	GetOrder(ctx context.Context, tenantID, orderID string) (*domain.OrderSnapshot, error)
	GetClosing(ctx context.Context, tenantID, closingID string) (*domain.ClosingSnapshot, error)
}

// Worker drives queue items through the processing pipeline.
type Worker struct {
	queueRepo   *store.QueueRepository
	receiptRepo *store.ReceiptRepository
	auditRepo   *store.AuditRepository
	breaker     *breaker.Breaker
	profiles    *profile.Resolver
	entities    EntitySource
	client      *mtls.Client
	log         *logging.Context

	environment    string
	networkEnabled bool
	maxRetries     int
	backoffBase    int
	backoffMax     int
	receiptStore   *ReceiptStore
}

// Config bundles Worker's dependencies and the ambient settings it reads
// from config.Config — it does not hold a *config.Config directly so the
// package stays decoupled from the config package's concerns.
type Config struct {
	QueueRepo      *store.QueueRepository
	ReceiptRepo    *store.ReceiptRepository
	AuditRepo      *store.AuditRepository
	Breaker        *breaker.Breaker
	Profiles       *profile.Resolver
	Entities       EntitySource
	Client         *mtls.Client
	Logger         *logging.Context
	ReceiptStore   *ReceiptStore
	Environment    string
	NetworkEnabled bool
	MaxRetries     int
	BackoffBase    int
	BackoffMax     int
}

// NewWorker creates a Worker from cfg.
func NewWorker(cfg Config) *Worker {
	return &Worker{
		queueRepo:      cfg.QueueRepo,
		receiptRepo:    cfg.ReceiptRepo,
		auditRepo:      cfg.AuditRepo,
		breaker:        cfg.Breaker,
		profiles:       cfg.Profiles,
		entities:       cfg.Entities,
		client:         cfg.Client,
		log:            cfg.Logger,
		receiptStore:   cfg.ReceiptStore,
		environment:    cfg.Environment,
		networkEnabled: cfg.NetworkEnabled,
		maxRetries:     cfg.MaxRetries,
		backoffBase:    cfg.BackoffBase,
		backoffMax:     cfg.BackoffMax,
	}
}

// ItemResult is the per-item outcome returned from ConsumeOnce, backing
// the admin "consume-once" surface.
type ItemResult struct {
	QueueID uint
	Status  store.QueueStatus
	Error   string
}

// BatchResult summarizes one ConsumeOnce invocation.
type BatchResult struct {
	Processed int
	Completed int
	Pending   int
	Failed    int
	Items     []ItemResult
}

// ConsumeOnce claims up to limit pending items and processes them with at
// most MaxConcurrency in flight.
func (w *Worker) ConsumeOnce(ctx context.Context, limit int) (*BatchResult, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}

	items, err := w.queueRepo.ClaimBatch(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("queue: claim batch: %w", err)
	}

	sem := semaphore.NewWeighted(MaxConcurrency)
	results := make([]ItemResult, len(items))
	var wg sync.WaitGroup

	for i, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = ItemResult{QueueID: item.ID, Status: store.QueueStatusPending, Error: err.Error()}
			continue
		}
		wg.Add(1)
		go func(i int, item *store.QueueItem) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = w.processItem(ctx, item)
		}(i, item)
	}
	wg.Wait()

	out := &BatchResult{Processed: len(results), Items: results}
	for _, r := range results {
		switch r.Status {
		case store.QueueStatusCompleted:
			out.Completed++
		case store.QueueStatusPending:
			out.Pending++
		case store.QueueStatusFailed:
			out.Failed++
		}
	}
	return out, nil
}

// processItem runs one item through the full claim-to-receipt pipeline.
// Per-item panics are not recovered here deliberately — a
// panic indicates a programmer error, not a classifiable submission
// failure, and should surface loudly rather than silently fail the item.
func (w *Worker) processItem(ctx context.Context, item *store.QueueItem) ItemResult {
	itemLog := w.log.WithFields(map[string]interface{}{
		"queue_id":  item.ID,
		"tenant_id": item.TenantID,
	})

	decision, err := w.breaker.Evaluate(ctx, w.environment, item.TenantID, string(item.EntityKind))
	if err != nil {
		itemLog.WithError(err).Warn("breaker evaluation failed, proceeding")
	} else if decision == breaker.DecisionSkip {
		itemLog.Info("tenant breaker open, leaving item pending")
		if err := w.queueRepo.ResetToPending(ctx, item.ID); err != nil {
			itemLog.WithError(err).Error("failed to return skipped item to pending")
		}
		return ItemResult{QueueID: item.ID, Status: store.QueueStatusPending}
	}

	result, processErr := w.runPipeline(ctx, item)
	if processErr != nil {
		itemLog.WithError(processErr).Error("item processing failed")
		if failErr := w.queueRepo.MarkFailed(ctx, item.ID, processErr.Error(), 0); failErr != nil {
			itemLog.WithError(failErr).Error("failed to mark item failed")
		}
		return ItemResult{QueueID: item.ID, Status: store.QueueStatusFailed, Error: processErr.Error()}
	}
	return *result
}

// entityPipelineInput is what runPipeline needs to have resolved before
// it can build and sign the regulator payload.
type entityPipelineInput struct {
	entity domain.Entity
	path   string
}

func (w *Worker) resolveEntity(ctx context.Context, item *store.QueueItem) (*entityPipelineInput, error) {
	switch item.EntityKind {
	case store.EntityKindOrder:
		order, err := w.entities.GetOrder(ctx, item.TenantID, item.OrderID)
		if err != nil {
			return nil, fmt.Errorf("fetch order %s: %w", item.OrderID, err)
		}
		if order == nil {
			return nil, fmt.Errorf("order %s not found", item.OrderID)
		}
		return &entityPipelineInput{entity: domain.OrderEntity{OrderSnapshot: order}, path: "/transaction"}, nil
	case store.EntityKindClosing:
		closing, err := w.entities.GetClosing(ctx, item.TenantID, item.ClosingID)
		if err != nil {
			return nil, fmt.Errorf("fetch closing %s: %w", item.ClosingID, err)
		}
		if closing == nil {
			return nil, fmt.Errorf("closing %s not found", item.ClosingID)
		}
		return &entityPipelineInput{entity: domain.ClosingEntity{ClosingSnapshot: closing}, path: "/closing"}, nil
	default:
		return nil, fmt.Errorf("unknown entity kind %q", item.EntityKind)
	}
}

// runPipeline executes steps 2-13 of the processing pipeline for a
// claimed item and returns the terminal or pending ItemResult.
func (w *Worker) runPipeline(ctx context.Context, item *store.QueueItem) (*ItemResult, error) {
	start := time.Now()

	// Step 2: fetch the underlying business object.
	resolved, err := w.resolveEntity(ctx, item)
	if err != nil {
		return nil, err
	}

	// Step 3: resolve the compliance profile.
	p, err := w.profiles.Resolve(ctx, item.TenantID, resolved.entity.Branch(), resolved.entity.Device())
	if err != nil {
		return nil, fmt.Errorf("resolve profile: %w", err)
	}

	// Step 4: look up the previous signature for (tenant, device).
	previous, err := w.receiptRepo.PreviousSignature(ctx, item.TenantID, resolved.entity.Device())
	if err != nil {
		return nil, fmt.Errorf("lookup previous signature: %w", err)
	}

	// Step 5-6: build the payload and sign it.
	payload, err := buildPayload(resolved.entity, p)
	if err != nil {
		return nil, fmt.Errorf("build payload: %w", err)
	}

	keyBlock, _ := pem.Decode(p.PrivateKeyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("profile private key is not valid PEM")
	}
	certBlock, _ := pem.Decode(p.CertificatePEM)
	if certBlock == nil {
		return nil, fmt.Errorf("profile certificate is not valid PEM")
	}
	privKey, err := parseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	envelope, err := canon.Sign(payload, privKey, certBlock.Bytes, previous)
	if err != nil {
		return nil, fmt.Errorf("sign payload: %w", err)
	}
	reqTrans, _ := payload["reqTrans"].(map[string]interface{})
	reqTrans["signature"] = map[string]interface{}{
		"previous":                envelope.Previous,
		"current":                 envelope.Current,
		"hash":                    envelope.Hash,
		"certificate_fingerprint": envelope.Fingerprint,
		"timestamp":               resolved.entity.EntityTimestamp().UTC().Format(time.RFC3339Nano),
	}

	// Step 7: compute idempotency key.
	idemKey := idempotencyKey(w.environment, item.TenantID, resolved.entity.EntityID(),
		resolved.entity.EntityTimestamp(), envelope.Current, resolved.entity.TotalCents())

	canonicalBody, err := canon.Canonicalize(payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize request body: %w", err)
	}

	// Step 8: submit, or dry-run if network submission is disabled.
	var resp mtls.Response
	if !w.networkEnabled {
		resp = mtls.Response{HTTPStatus: 0, JSON: map[string]interface{}{"dry_run": true}}
	} else {
		headers := headersFor(p)
		resp = w.client.Post(ctx, resolved.path, canonicalBody, headers, idemKey, p.CertificatePEM, p.PrivateKeyPEM)
	}

	// Step 9: classify.
	classified := classifyResponse(resp, w.networkEnabled)

	// Step 10: audit log entry.
	w.writeAudit(ctx, item, resolved, envelope, canonicalBody, resp, classified, time.Since(start))

	// Step 11: update circuit breaker.
	w.updateBreaker(ctx, item, classified)

	// Step 12/13: state transition and receipt persistence.
	return w.applyStateTransition(ctx, item, resolved, envelope, resp, classified)
}

func (w *Worker) updateBreaker(ctx context.Context, item *store.QueueItem, classified classify.ClassifiedError) {
	op := string(item.EntityKind)
	switch {
	case classified.Code == classify.CodeOK:
		_ = w.breaker.RecordSuccess(ctx, w.environment, item.TenantID, op)
	case classified.Code == classify.CodeTempUnavailable:
		_ = w.breaker.RecordFailure(ctx, w.environment, item.TenantID, op)
	}
}

func (w *Worker) writeAudit(ctx context.Context, item *store.QueueItem, resolved *entityPipelineInput, envelope *canon.Envelope, canonicalBody []byte, resp mtls.Response, classified classify.ClassifiedError, duration time.Duration) {
	reqHash := sha256.Sum256(canonicalBody)
	respHash := sha256.Sum256(resp.Body)

	entry := &store.AuditLogEntry{
		TenantID:            item.TenantID,
		Operation:           string(item.EntityKind),
		RequestMethod:       "POST",
		RequestPath:         resolved.path,
		RequestBodyHash:     hex.EncodeToString(reqHash[:]),
		RequestSignature:    envelope.Current,
		ResponseStatus:      resp.HTTPStatus,
		ResponseBodyHash:    hex.EncodeToString(respHash[:]),
		DurationMS:          duration.Milliseconds(),
		ClassifiedErrorCode: string(classified.Code),
		SanitizedErrorMsg:   classified.RawMessage,
		RegulatorReturnCode: classified.RawCode,
	}
	if item.EntityKind == store.EntityKindOrder {
		entry.OrderID = item.OrderID
	} else {
		entry.ClosingID = item.ClosingID
	}
	if err := w.auditRepo.Create(ctx, entry); err != nil {
		w.log.WithError(err).Error("failed to write audit log entry")
	}
}

func (w *Worker) applyStateTransition(ctx context.Context, item *store.QueueItem, resolved *entityPipelineInput, envelope *canon.Envelope, resp mtls.Response, classified classify.ClassifiedError) (*ItemResult, error) {
	regulatorTransID := extractRegulatorTransID(resp.JSON)

	switch {
	case classified.Code == classify.CodeOK:
		if err := w.queueRepo.MarkCompleted(ctx, item.ID, regulatorTransID, classified.HTTPStatus); err != nil {
			return nil, fmt.Errorf("mark completed: %w", err)
		}
		if w.receiptStore != nil {
			qr := buildQRString(envelope, regulatorTransID, resolved.entity.EntityTimestamp())
			if err := w.receiptStore.Persist(ctx, ReceiptInput{
				TenantID:          item.TenantID,
				DeviceID:          resolved.entity.Device(),
				EntityKind:        item.EntityKind,
				OrderID:           item.OrderID,
				ClosingID:         item.ClosingID,
				PreviousSignature: envelope.Previous,
				CurrentSignature:  envelope.Current,
				CanonicalHash:     envelope.Hash,
				QRString:          qr,
				RegulatorTransID:  regulatorTransID,
				Environment:       w.environment,
				TransactionTime:   resolved.entity.EntityTimestamp(),
			}); err != nil {
				w.log.WithError(err).Error("failed to persist receipt")
			}
		}
		return &ItemResult{QueueID: item.ID, Status: store.QueueStatusCompleted}, nil

	case classified.Retryable:
		backoffMS := classify.Backoff(item.RetryCount, w.backoffBase, w.backoffMax)
		if err := w.queueRepo.MarkRetryable(ctx, item, classified.RawMessage, classified.HTTPStatus, backoffMS); err != nil {
			return nil, fmt.Errorf("mark retryable: %w", err)
		}
		if item.RetryCount+1 >= item.MaxRetryCount {
			return &ItemResult{QueueID: item.ID, Status: store.QueueStatusFailed, Error: classified.RawMessage}, nil
		}
		return &ItemResult{QueueID: item.ID, Status: store.QueueStatusPending}, nil

	default:
		if err := w.queueRepo.MarkFailed(ctx, item.ID, classified.RawMessage, classified.HTTPStatus); err != nil {
			return nil, fmt.Errorf("mark failed: %w", err)
		}
		return &ItemResult{QueueID: item.ID, Status: store.QueueStatusFailed, Error: classified.RawMessage}, nil
	}
}

func extractRegulatorTransID(body map[string]interface{}) string {
	if body == nil {
		return ""
	}
	for _, top := range []string{"retourTrans", "retourFer"} {
		sub, ok := body[top].(map[string]interface{})
		if !ok {
			continue
		}
		actu, ok := sub[top+"Actu"].(map[string]interface{})
		if !ok {
			continue
		}
		if id, ok := actu["psiNoTrans"].(string); ok {
			return id
		}
		if id, ok := actu["psiNoFer"].(string); ok {
			return id
		}
	}
	return ""
}

func classifyResponse(resp mtls.Response, networkEnabled bool) classify.ClassifiedError {
	if !networkEnabled {
		return classify.ClassifiedError{Code: classify.CodeOK, Retryable: false, HTTPStatus: 0}
	}
	if resp.Transport != classify.TransportNone {
		return classify.Classify(classify.Response{Transport: resp.Transport, RawMessage: errMessage(resp)})
	}
	rawCode, rawMessage := extractRegulatorError(resp.JSON)
	return classify.Classify(classify.Response{HTTPStatus: resp.HTTPStatus, RawCode: rawCode, RawMessage: rawMessage})
}

func errMessage(resp mtls.Response) string {
	if resp.Err != nil {
		return resp.Err.Error()
	}
	return ""
}

func extractRegulatorError(body map[string]interface{}) (code, message string) {
	if body == nil {
		return "", ""
	}
	for _, top := range []string{"retourTrans", "retourFer"} {
		sub, ok := body[top].(map[string]interface{})
		if !ok {
			continue
		}
		errs, ok := sub["listErr"].([]interface{})
		if !ok || len(errs) == 0 {
			continue
		}
		first, ok := errs[0].(map[string]interface{})
		if !ok {
			continue
		}
		c, _ := first["codRetour"].(string)
		m, _ := first["mess"].(string)
		return c, m
	}
	return "", ""
}

// idempotencyKey computes SHA-256(env|tenant|entity_id|timestamp|signature|total_cents)
// as 64 lowercase hex characters.
func idempotencyKey(environment, tenantID, entityID string, timestamp time.Time, currentSignature string, totalCents int64) string {
	parts := []string{
		environment,
		tenantID,
		entityID,
		timestamp.UTC().Format(time.RFC3339Nano),
		currentSignature,
		fmt.Sprintf("%d", totalCents),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
