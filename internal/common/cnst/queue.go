package cnst

// Well-known queue names. Handlers for these queues are registered
// during apiserver startup.
const (
	// QueueInApp delivers notifications to live websocket sessions
	QueueInApp = "notifications.inapp"
	// QueueEmail delivers notifications via the mail sender
	QueueEmail = "notifications.email"
	// QueuePush delivers notifications via the mobile push sender
	QueuePush = "notifications.push"
	// QueueReports generates reports and chains into QueueInApp on success
	QueueReports = "reports"
)

// Redis key prefixes
const (
	// RedisUnreadKeyPrefix prefixes the per-principal unread counter keys
	RedisUnreadKeyPrefix = "maintrack:unread:"
)

// Redis cluster types supported by the cache configuration
const (
	RedisClusterTypeNone     = "none"
	RedisClusterTypeCluster  = "cluster"
	RedisClusterTypeSentinel = "sentinel"
)
