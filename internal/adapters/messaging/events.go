package messaging

type KafkaEvent = string

// Топики движка синхронизации
const (
	SyncCommandsTopic   = "sync-commands"
	WebhookEventsTopic  = "webhook-events"
	SyncResultsTopic    = "sync-results"
	SyncDeadLetterTopic = "sync-dead-letter"
)

// События, публикуемые движком
const (
	SyncStartedEvent       KafkaEvent = "sync_started"
	SyncCompletedEvent     KafkaEvent = "sync_completed"
	SyncFailedEvent        KafkaEvent = "sync_failed"
	ConflictDetectedEvent  KafkaEvent = "conflict_detected"
	ConflictResolvedEvent  KafkaEvent = "conflict_resolved"
)
