package store

// Delivery states. A delivery moves pending -> retry* -> delivered, or to
// failed once the worker gives up; failed deliveries sit in the DLQ until
// requeued.
const (
    DeliveryPending   = "pending"
    DeliveryRetry     = "retry"
    DeliveryDelivered = "delivered"
    DeliveryFailed    = "failed"
)

// WebhookDelivery is one queued POST of a run event to a URL.
type WebhookDelivery struct {
    ID             string
    TenantID       string
    SubscriptionID string // empty for the server-wide WEBHOOK_URL
    EventType      string
    URL            string
    Secret         string
    Payload        []byte
    Status         string
    Attempts       int
}

// Retryable reports whether the worker may still pick the delivery up.
func (d WebhookDelivery) Retryable() bool {
    return d.Status == DeliveryPending || d.Status == DeliveryRetry
}
