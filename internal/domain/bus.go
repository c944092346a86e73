package domain

import "context"

// Topics used by the analysis pipeline.
const (
	TopicTransactionSubmitted = "fraudsentry.transaction.submitted"
	TopicAnalysisCompleted    = "fraudsentry.analysis.completed"
	TopicAlert                = "fraudsentry.alert"
)

// AllTenants subscribes to a topic across tenants. It is never a valid publish tenant.
const AllTenants = "*"

// EventBus moves tenant-scoped messages between the API, the worker and
// downstream consumers. The in-process channel bus and NATS both implement it.
type EventBus interface {
	Publish(ctx context.Context, tenantID, topic string, payload []byte) error

	// Subscribe delivers every message published for tenantID on topic until the
	// returned subscription is cancelled.
	Subscribe(ctx context.Context, tenantID, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler consumes one message. A returned error is logged by the bus.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope carried on every topic.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription is a live registration on one topic.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects the bus backend.
type EventBusConfig struct {
	// Type is "channel" or "nats".
	Type string

	ChannelBufferSize int

	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// AlertEvent is published for every FRAUDULENT analysis.
type AlertEvent struct {
	AnalysisID string    `json:"analysisId"`
	TxID       string    `json:"txId"`
	TenantID   string    `json:"tenantId"`
	RiskScore  int       `json:"riskScore"`
	RiskLevel  RiskLevel `json:"riskLevel"`
	RiskTags   []string  `json:"riskTags"`
	Timestamp  int64     `json:"timestamp"`
}
