package domain

const (
	RequesterTypeCtxKey = "tent-requesterType"
	RequesterIdCtxKey   = "tent-requesterId"
	RequesterAppCtxKey  = "tent-requesterApp"
)

const (
	Unknown = iota
	LocalUser
	RemoteUser
	RemoteServer
)

func RequesterTypeString(t int) string {
	switch t {
	case LocalUser:
		return "LocalUser"
	case RemoteUser:
		return "RemoteUser"
	case RemoteServer:
		return "RemoteServer"
	case Unknown:
		return "Unknown"
	default:
		return "Error"
	}
}

// The four propagation queues fed on post create. Consumers assume
// at-least-once delivery.
const (
	QueueMentions          = "queue:mentions"
	QueueSubscriptions     = "queue:subscriptions"
	QueueAppNotifications  = "queue:app-notifications"
	QueueMetaSubscriptions = "queue:meta-subscriptions"
)
