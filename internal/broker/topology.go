package broker

import (
	"fmt"

	"carepipe/internal/constants"
)

type Exchange struct {
	Name string
	Kind string
}

type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
}

// Topology is the full set of durable declarations a process needs before it publishes or consumes.
type Topology struct {
	Exchanges []Exchange
	Queues    []string
	Bindings  []Binding
}

// DefaultTopology returns the five stage bindings.
func DefaultTopology() Topology {
	bindings := []Binding{
		{Queue: constants.ClinicalMessagesQueue, Exchange: constants.ClinicalExchange, RoutingKey: constants.ClinicalMessageKey},
		{Queue: constants.ClinicalProcessedQueue, Exchange: constants.EvidenceExchange, RoutingKey: constants.ClinicalProcessedKey},
		{Queue: constants.RiskScoresQueue, Exchange: constants.ScoringExchange, RoutingKey: constants.RiskCalculatedKey},
		{Queue: constants.CareGapsQueue, Exchange: constants.DashboardExchange, RoutingKey: constants.CareGapCreatedKey},
		{Queue: constants.CareAlertsQueue, Exchange: constants.DashboardExchange, RoutingKey: constants.CareAlertHighKey},
	}

	t := Topology{}
	seenExchange := make(map[string]bool)
	for _, b := range bindings {
		if !seenExchange[b.Exchange] {
			seenExchange[b.Exchange] = true
			t.Exchanges = append(t.Exchanges, Exchange{Name: b.Exchange, Kind: constants.ExchangeKindTopic})
		}
		t.Queues = append(t.Queues, b.Queue)
	}
	t.Bindings = bindings

	return t
}

// Validate checks that every binding refers to a declared exchange and queue.
func (t Topology) Validate() error {
	exchanges := make(map[string]bool, len(t.Exchanges))
	for _, ex := range t.Exchanges {
		if ex.Name == "" {
			return fmt.Errorf("exchange with empty name")
		}
		if ex.Kind == "" {
			return fmt.Errorf("exchange %s has no kind", ex.Name)
		}
		exchanges[ex.Name] = true
	}

	queues := make(map[string]bool, len(t.Queues))
	for _, q := range t.Queues {
		if q == "" {
			return fmt.Errorf("queue with empty name")
		}
		queues[q] = true
	}

	for _, b := range t.Bindings {
		if !exchanges[b.Exchange] {
			return fmt.Errorf("binding %s -> %s: exchange not declared", b.Queue, b.Exchange)
		}
		if !queues[b.Queue] {
			return fmt.Errorf("binding %s -> %s: queue not declared", b.Queue, b.Exchange)
		}
	}

	return nil
}

// RouteFor returns the exchange bound to queue, if any.
func (t Topology) RouteFor(queue string) (Binding, bool) {
	for _, b := range t.Bindings {
		if b.Queue == queue {
			return b, true
		}
	}
	return Binding{}, false
}
