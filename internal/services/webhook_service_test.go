package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"bundle-sync-service/internal/models"
	"bundle-sync-service/internal/queue"
	"bundle-sync-service/internal/repository"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockWebhookStore is a mock implementation of WebhookStore
type MockWebhookStore struct {
	mock.Mock
}

var _ repository.WebhookStore = (*MockWebhookStore)(nil)

func (m *MockWebhookStore) Create(ctx context.Context, event *models.BundleWebhookEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockWebhookStore) SetQueueItem(ctx context.Context, id, queueItemID uuid.UUID) error {
	args := m.Called(ctx, id, queueItemID)
	return args.Error(0)
}

func (m *MockWebhookStore) MarkProcessed(ctx context.Context, id uuid.UUID, err error) error {
	args := m.Called(ctx, id, err)
	return args.Error(0)
}

func (m *MockWebhookStore) GetUnprocessedEvents(ctx context.Context, limit int) ([]models.BundleWebhookEvent, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.BundleWebhookEvent), args.Error(1)
}

func (m *MockWebhookStore) ExistsWithIdempotencyKey(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

// MockDeduplicator is a mock implementation of Deduplicator
type MockDeduplicator struct {
	mock.Mock
}

func (m *MockDeduplicator) FirstSeen(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockDeduplicator) Forget(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// memoryDedupe is a Deduplicator backed by a map
type memoryDedupe struct {
	seen map[string]bool
}

func (d *memoryDedupe) FirstSeen(ctx context.Context, key string) (bool, error) {
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

func (d *memoryDedupe) Forget(ctx context.Context, key string) error {
	delete(d.seen, key)
	return nil
}

// recordingDispatcher keeps what it was given and completes immediately
type recordingDispatcher struct {
	products []string
	orders   [][]models.LineItem
	result   error
	itemID   uuid.UUID
}

func (d *recordingDispatcher) OnProductChanged(productID string, done queue.Completion) uuid.UUID {
	d.products = append(d.products, productID)
	done(d.result)
	return d.itemID
}

func (d *recordingDispatcher) OnOrderPlaced(items []models.LineItem, done queue.Completion) uuid.UUID {
	d.orders = append(d.orders, items)
	done(d.result)
	return d.itemID
}

func webhookHeaders(topic, webhookID string) map[string]string {
	return map[string]string{
		"x-shopify-topic":       topic,
		"x-shopify-webhook-id":  webhookID,
		"x-shopify-shop-domain": "flores.myshopify.com",
		"x-shopify-hmac-sha256": "c2lnbmF0dXJl",
	}
}

func TestProcessWebhook_ProductUpdate(t *testing.T) {
	store := new(MockWebhookStore)
	dedupe := new(MockDeduplicator)
	dispatcher := &recordingDispatcher{itemID: uuid.New()}
	svc := NewWebhookService(store, dedupe, dispatcher, testLogger())

	dedupe.On("FirstSeen", mock.Anything, "shopify-wh-1").Return(true, nil)
	store.On("Create", mock.Anything, mock.MatchedBy(func(e *models.BundleWebhookEvent) bool {
		_, hasSignature := e.Headers["x-shopify-hmac-sha256"]
		return e.Topic == models.TopicProductsUpdate &&
			e.ProductID == "123" &&
			e.IdempotencyKey == "shopify-wh-1" &&
			e.ShopDomain == "flores.myshopify.com" &&
			!hasSignature
	})).Return(nil)
	store.On("MarkProcessed", mock.Anything, mock.Anything, nil).Return(nil)
	store.On("SetQueueItem", mock.Anything, mock.Anything, dispatcher.itemID).Return(nil)

	result, err := svc.ProcessWebhook(context.Background(), "", []byte(`{"id":123,"title":"Ramo"}`), webhookHeaders(models.TopicProductsUpdate, "wh-1"))
	require.NoError(t, err)
	assert.Equal(t, WebhookAccepted, result)
	assert.Equal(t, []string{"123"}, dispatcher.products)
	store.AssertExpectations(t)
	dedupe.AssertExpectations(t)
}

func TestProcessWebhook_OrderCreate(t *testing.T) {
	store := new(MockWebhookStore)
	dispatcher := &recordingDispatcher{itemID: uuid.New()}
	svc := NewWebhookService(store, nil, dispatcher, testLogger())

	store.On("ExistsWithIdempotencyKey", mock.Anything, "shopify-wh-2").Return(false, nil)
	store.On("Create", mock.Anything, mock.Anything).Return(nil)
	store.On("MarkProcessed", mock.Anything, mock.Anything, nil).Return(nil)
	store.On("SetQueueItem", mock.Anything, mock.Anything, dispatcher.itemID).Return(nil)

	payload := []byte(`{"id":9,"line_items":[{"product_id":200,"variant_id":2001,"quantity":2},{"product_id":null,"quantity":1}]}`)
	result, err := svc.ProcessWebhook(context.Background(), models.TopicOrdersCreate, payload, webhookHeaders("", "wh-2"))
	require.NoError(t, err)
	assert.Equal(t, WebhookAccepted, result)
	require.Len(t, dispatcher.orders, 1)
	assert.Equal(t, []models.LineItem{{ProductID: "200", VariantID: "2001", Quantity: 2}}, dispatcher.orders[0])
}

func TestProcessWebhook_DuplicateFromDedupe(t *testing.T) {
	store := new(MockWebhookStore)
	dedupe := new(MockDeduplicator)
	dispatcher := &recordingDispatcher{}
	svc := NewWebhookService(store, dedupe, dispatcher, testLogger())

	dedupe.On("FirstSeen", mock.Anything, "shopify-wh-1").Return(false, nil)

	result, err := svc.ProcessWebhook(context.Background(), "", []byte(`{"id":123}`), webhookHeaders(models.TopicProductsUpdate, "wh-1"))
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, result)
	assert.Empty(t, dispatcher.products)
	store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestProcessWebhook_FallsBackToWebhookLog(t *testing.T) {
	store := new(MockWebhookStore)
	dedupe := new(MockDeduplicator)
	dispatcher := &recordingDispatcher{}
	svc := NewWebhookService(store, dedupe, dispatcher, testLogger())

	dedupe.On("FirstSeen", mock.Anything, "shopify-wh-1").Return(false, errors.New("connection refused"))
	store.On("ExistsWithIdempotencyKey", mock.Anything, "shopify-wh-1").Return(true, nil)

	result, err := svc.ProcessWebhook(context.Background(), "", []byte(`{"id":123}`), webhookHeaders(models.TopicProductsUpdate, "wh-1"))
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, result)
	assert.Empty(t, dispatcher.products)
}

func TestProcessWebhook_UnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	store := new(MockWebhookStore)
	dispatcher := &recordingDispatcher{itemID: uuid.New()}
	svc := NewWebhookService(store, NewRedisDeduplicator(client, time.Hour), dispatcher, testLogger())

	store.On("ExistsWithIdempotencyKey", mock.Anything, "shopify-wh-3").Return(false, nil)
	store.On("Create", mock.Anything, mock.Anything).Return(nil)
	store.On("MarkProcessed", mock.Anything, mock.Anything, nil).Return(nil)
	store.On("SetQueueItem", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := svc.ProcessWebhook(context.Background(), "", []byte(`{"id":7}`), webhookHeaders(models.TopicProductsDelete, "wh-3"))
	require.NoError(t, err)
	assert.Equal(t, WebhookAccepted, result)
	assert.Equal(t, []string{"7"}, dispatcher.products)
}

func TestProcessWebhook_ConcurrentInsertIsDuplicate(t *testing.T) {
	store := new(MockWebhookStore)
	dispatcher := &recordingDispatcher{}
	svc := NewWebhookService(store, nil, dispatcher, testLogger())

	store.On("ExistsWithIdempotencyKey", mock.Anything, "shopify-wh-1").Return(false, nil).Once()
	store.On("Create", mock.Anything, mock.Anything).Return(errors.New("duplicate key value violates unique constraint"))
	store.On("ExistsWithIdempotencyKey", mock.Anything, "shopify-wh-1").Return(true, nil).Once()

	result, err := svc.ProcessWebhook(context.Background(), "", []byte(`{"id":123}`), webhookHeaders(models.TopicProductsUpdate, "wh-1"))
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, result)
	assert.Empty(t, dispatcher.products)
}

func TestProcessWebhook_StoreFailureReleasesDedupeKey(t *testing.T) {
	store := new(MockWebhookStore)
	dedupe := &memoryDedupe{seen: map[string]bool{}}
	dispatcher := &recordingDispatcher{itemID: uuid.New()}
	svc := NewWebhookService(store, dedupe, dispatcher, testLogger())

	store.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()
	store.On("ExistsWithIdempotencyKey", mock.Anything, "shopify-wh-7").Return(false, nil).Once()
	store.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
	store.On("MarkProcessed", mock.Anything, mock.Anything, nil).Return(nil)
	store.On("SetQueueItem", mock.Anything, mock.Anything, dispatcher.itemID).Return(nil)

	payload := []byte(`{"id":9,"line_items":[{"product_id":200,"variant_id":2001,"quantity":1}]}`)
	headers := webhookHeaders(models.TopicOrdersCreate, "wh-7")

	_, err := svc.ProcessWebhook(context.Background(), "", payload, headers)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidWebhook)
	assert.False(t, dedupe.seen["shopify-wh-7"])
	assert.Empty(t, dispatcher.orders)

	// Shopify redelivers the same webhook id
	result, err := svc.ProcessWebhook(context.Background(), "", payload, headers)
	require.NoError(t, err)
	assert.Equal(t, WebhookAccepted, result)
	require.Len(t, dispatcher.orders, 1)
	assert.True(t, dedupe.seen["shopify-wh-7"])

	result, err = svc.ProcessWebhook(context.Background(), "", payload, headers)
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, result)
	assert.Len(t, dispatcher.orders, 1)
	store.AssertExpectations(t)
}

func TestProcessWebhook_IgnoredTopic(t *testing.T) {
	store := new(MockWebhookStore)
	svc := NewWebhookService(store, nil, &recordingDispatcher{}, testLogger())

	result, err := svc.ProcessWebhook(context.Background(), "", []byte(`{"id":1}`), webhookHeaders("customers/create", "wh-9"))
	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, result)
	store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestProcessWebhook_MalformedPayload(t *testing.T) {
	store := new(MockWebhookStore)
	svc := NewWebhookService(store, nil, &recordingDispatcher{}, testLogger())

	_, err := svc.ProcessWebhook(context.Background(), "", []byte(`{"title":"no id"}`), webhookHeaders(models.TopicProductsUpdate, "wh-9"))
	assert.ErrorIs(t, err, ErrInvalidWebhook)
	store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestProcessWebhook_FailureIsRecorded(t *testing.T) {
	store := new(MockWebhookStore)
	failure := errors.New("catalog unavailable")
	dispatcher := &recordingDispatcher{itemID: uuid.New(), result: failure}
	svc := NewWebhookService(store, nil, dispatcher, testLogger())

	store.On("ExistsWithIdempotencyKey", mock.Anything, mock.Anything).Return(false, nil)
	store.On("Create", mock.Anything, mock.Anything).Return(nil)
	store.On("MarkProcessed", mock.Anything, mock.Anything, failure).Return(nil)
	store.On("SetQueueItem", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := svc.ProcessWebhook(context.Background(), "", []byte(`{"id":5}`), webhookHeaders(models.TopicProductsCreate, "wh-5"))
	require.NoError(t, err)
	assert.Equal(t, WebhookAccepted, result)
	store.AssertCalled(t, "MarkProcessed", mock.Anything, mock.Anything, failure)
}

func TestIdempotencyKey(t *testing.T) {
	assert.Equal(t, "shopify-abc", idempotencyKey("products/update", "abc", []byte("x")))

	a := idempotencyKey("products/update", "", []byte(`{"id":1}`))
	b := idempotencyKey("products/update", "", []byte(`{"id":1}`))
	c := idempotencyKey("products/update", "", []byte(`{"id":2}`))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "products/update-")
}

func TestReplayPending(t *testing.T) {
	store := new(MockWebhookStore)
	dispatcher := &recordingDispatcher{itemID: uuid.New()}
	svc := NewWebhookService(store, nil, dispatcher, testLogger())

	product := models.BundleWebhookEvent{ID: uuid.New(), Topic: models.TopicProductsUpdate, Payload: models.JSONB{"id": float64(321)}}
	order := models.BundleWebhookEvent{ID: uuid.New(), Topic: models.TopicOrdersCreate, Payload: models.JSONB{
		"line_items": []interface{}{map[string]interface{}{"product_id": float64(200), "variant_id": float64(2001), "quantity": float64(1)}},
	}}
	unknown := models.BundleWebhookEvent{ID: uuid.New(), Topic: "shop/update", Payload: models.JSONB{}}

	store.On("GetUnprocessedEvents", mock.Anything, 50).Return([]models.BundleWebhookEvent{product, order, unknown}, nil)
	store.On("MarkProcessed", mock.Anything, product.ID, nil).Return(nil)
	store.On("MarkProcessed", mock.Anything, order.ID, nil).Return(nil)
	store.On("MarkProcessed", mock.Anything, unknown.ID, mock.Anything).Return(nil)
	store.On("SetQueueItem", mock.Anything, mock.Anything, dispatcher.itemID).Return(nil)

	n, err := svc.ReplayPending(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"321"}, dispatcher.products)
	require.Len(t, dispatcher.orders, 1)
	assert.Equal(t, "200", dispatcher.orders[0][0].ProductID)
	store.AssertExpectations(t)
}
