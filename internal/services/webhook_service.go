package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bundle-sync-service/internal/clients/shopify"
	"bundle-sync-service/internal/metrics"
	"bundle-sync-service/internal/models"
	"bundle-sync-service/internal/queue"
	"bundle-sync-service/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// WebhookResult is what happened to one delivery
type WebhookResult string

const (
	WebhookAccepted  WebhookResult = "accepted"
	WebhookDuplicate WebhookResult = "duplicate"
	WebhookIgnored   WebhookResult = "ignored"
)

// ErrInvalidWebhook marks deliveries whose payload cannot be used. Redelivering them will not help.
var ErrInvalidWebhook = errors.New("invalid webhook payload")

// Dispatcher accepts change notifications for asynchronous processing
type Dispatcher interface {
	OnProductChanged(productID string, done queue.Completion) uuid.UUID
	OnOrderPlaced(items []models.LineItem, done queue.Completion) uuid.UUID
}

// WebhookService handles catalog webhook processing
type WebhookService struct {
	webhookRepo repository.WebhookStore
	dedupe      Deduplicator
	dispatcher  Dispatcher
	logger      *logrus.Entry
}

// NewWebhookService creates a new webhook service. dedupe may be nil, in which case
// duplicate deliveries are detected through the webhook log alone.
func NewWebhookService(webhookRepo repository.WebhookStore, dedupe Deduplicator, dispatcher Dispatcher, logger *logrus.Entry) *WebhookService {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &WebhookService{
		webhookRepo: webhookRepo,
		dedupe:      dedupe,
		dispatcher:  dispatcher,
		logger:      logger.WithField("component", "webhooks"),
	}
}

// ProcessWebhook stores a verified delivery and hands it to the dispatcher.
// headers must be keyed by lower-case header name. topic overrides the topic header when set.
func (s *WebhookService) ProcessWebhook(ctx context.Context, topic string, payload []byte, headers map[string]string) (WebhookResult, error) {
	if topic == "" {
		topic = headers[strings.ToLower(shopify.HeaderTopic)]
	}

	result, err := s.process(ctx, topic, payload, headers)
	label := string(result)
	if err != nil {
		label = "error"
	}
	metrics.WebhooksReceived.WithLabelValues(topic, label).Inc()
	return result, err
}

func (s *WebhookService) process(ctx context.Context, topic string, payload []byte, headers map[string]string) (WebhookResult, error) {
	event := &models.BundleWebhookEvent{
		ID:         uuid.New(),
		ShopDomain: headers[strings.ToLower(shopify.HeaderShopDomain)],
		WebhookID:  headers[strings.ToLower(shopify.HeaderWebhookID)],
		Topic:      topic,
		Headers:    models.JSONB(convertHeaders(headers)),
	}
	event.IdempotencyKey = idempotencyKey(topic, event.WebhookID, payload)

	job, err := s.parse(topic, payload)
	if err != nil {
		return "", err
	}
	if job == nil {
		s.logger.WithField("topic", topic).Debug("Ignoring webhook topic")
		return WebhookIgnored, nil
	}
	event.ProductID = job.productID

	duplicate, claimed, err := s.isDuplicate(ctx, event.IdempotencyKey)
	if err != nil {
		return "", err
	}
	if duplicate {
		return WebhookDuplicate, nil
	}

	// A claimed key must not outlive a delivery that was never stored, or the redelivery is lost
	stored := false
	if claimed {
		defer func() {
			if !stored {
				s.release(ctx, event.IdempotencyKey)
			}
		}()
	}

	var body map[string]interface{}
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	event.Payload = models.JSONB(body)

	if err := s.webhookRepo.Create(ctx, event); err != nil {
		if exists, existsErr := s.webhookRepo.ExistsWithIdempotencyKey(ctx, event.IdempotencyKey); existsErr == nil && exists {
			stored = true
			return WebhookDuplicate, nil
		}
		return "", fmt.Errorf("failed to store webhook: %w", err)
	}
	stored = true

	s.dispatch(ctx, event, job)
	return WebhookAccepted, nil
}

// ReplayPending re-dispatches deliveries that were stored but never finished, oldest first
func (s *WebhookService) ReplayPending(ctx context.Context, limit int) (int, error) {
	events, err := s.webhookRepo.GetUnprocessedEvents(ctx, limit)
	if err != nil {
		return 0, err
	}

	replayed := 0
	for i := range events {
		event := &events[i]
		payload, err := json.Marshal(event.Payload)
		if err != nil {
			_ = s.webhookRepo.MarkProcessed(ctx, event.ID, err)
			continue
		}
		job, err := s.parse(event.Topic, payload)
		if err != nil || job == nil {
			if err == nil {
				err = fmt.Errorf("topic %s is not handled", event.Topic)
			}
			_ = s.webhookRepo.MarkProcessed(ctx, event.ID, err)
			continue
		}
		s.dispatch(ctx, event, job)
		replayed++
	}
	if replayed > 0 {
		s.logger.WithField("count", replayed).Info("Replayed unprocessed webhooks")
	}
	return replayed, nil
}

// webhookJob is the decoded work of a delivery
type webhookJob struct {
	productID string
	items     []models.LineItem
}

func (s *WebhookService) parse(topic string, payload []byte) (*webhookJob, error) {
	switch topic {
	case models.TopicProductsCreate, models.TopicProductsUpdate, models.TopicProductsDelete:
		id, err := shopify.ParseProductWebhook(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
		}
		return &webhookJob{productID: id}, nil
	case models.TopicOrdersCreate:
		items, err := shopify.ParseOrderWebhook(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
		}
		return &webhookJob{items: items}, nil
	default:
		return nil, nil
	}
}

func (s *WebhookService) dispatch(ctx context.Context, event *models.BundleWebhookEvent, job *webhookJob) {
	eventID := event.ID
	done := func(err error) {
		if markErr := s.webhookRepo.MarkProcessed(context.Background(), eventID, err); markErr != nil {
			s.logger.WithField("event_id", eventID.String()).WithError(markErr).Warn("Failed to mark webhook processed")
		}
	}

	var itemID uuid.UUID
	if job.productID != "" {
		itemID = s.dispatcher.OnProductChanged(job.productID, done)
	} else {
		itemID = s.dispatcher.OnOrderPlaced(job.items, done)
	}

	if err := s.webhookRepo.SetQueueItem(ctx, eventID, itemID); err != nil {
		s.logger.WithField("event_id", eventID.String()).WithError(err).Warn("Failed to link webhook to queue item")
	}
	s.logger.WithFields(logrus.Fields{
		"event_id":      eventID.String(),
		"topic":         event.Topic,
		"queue_item_id": itemID.String(),
	}).Debug("Webhook queued")
}

// isDuplicate checks the fast dedupe window first and the webhook log when it is unavailable.
// claimed reports that the key was recorded in the dedupe window by this call.
func (s *WebhookService) isDuplicate(ctx context.Context, key string) (duplicate, claimed bool, err error) {
	if s.dedupe != nil {
		first, err := s.dedupe.FirstSeen(ctx, key)
		if err == nil {
			return !first, first, nil
		}
		s.logger.WithError(err).Warn("Dedupe store unavailable, falling back to webhook log")
	}
	duplicate, err = s.webhookRepo.ExistsWithIdempotencyKey(ctx, key)
	return duplicate, false, err
}

// release drops a claimed key so that a redelivery is processed
func (s *WebhookService) release(ctx context.Context, key string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.dedupe.Forget(releaseCtx, key); err != nil {
		s.logger.WithField("idempotency_key", key).WithError(err).Warn("Failed to release dedupe key")
	}
}

// idempotencyKey prefers the delivery id; deliveries without one are keyed by content
func idempotencyKey(topic, webhookID string, payload []byte) string {
	if webhookID != "" {
		return "shopify-" + webhookID
	}
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("%s-%s", topic, hex.EncodeToString(sum[:]))
}

// convertHeaders converts headers map for storage
func convertHeaders(headers map[string]string) map[string]interface{} {
	result := make(map[string]interface{})
	for k, v := range headers {
		if k == strings.ToLower(shopify.HeaderHMAC) {
			continue
		}
		result[k] = v
	}
	return result
}
