package ports

// EventType tags the fire-and-forget notifications produced for the UI and
// other collaborators. No acknowledgment is expected from subscribers.
type EventType int

const (
	EventTradeStateChanged EventType = iota
	EventDisputeStateChanged
	EventBalanceChanged
	EventKeyImageSpentStatusChanged
)

// Event is a single notification.
type Event struct {
	Type    EventType
	TradeId string
	Payload interface{}
}

// EventPublisher fans events out to registered subscribers.
type EventPublisher interface {
	Subscribe(fn func(Event)) int
	Unsubscribe(id int) error
	Publish(event Event)
}
