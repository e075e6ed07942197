// Package event defines the change notifications emitted by the stock and
// invoice services and the sinks that deliver them.
package event

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	StockChanged         Type = "stock.changed"
	InvoiceStatusChanged Type = "invoice.status_changed"
	ProductChanged       Type = "product.changed"
	SnapshotCreated      Type = "snapshot.created"
	SnapshotRestored     Type = "snapshot.restored"
)

type Event struct {
	Type      Type       `json:"type"`
	ProductID *uuid.UUID `json:"product_id,omitempty"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	InvoiceID *uuid.UUID `json:"invoice_id,omitempty"`
	Qty       *int       `json:"qty,omitempty"`
	Delta     int        `json:"delta,omitempty"`
	Status    string     `json:"status,omitempty"`
	Reference string     `json:"reference,omitempty"`
	Actor     string     `json:"actor,omitempty"`
	Message   string     `json:"message,omitempty"`
	At        time.Time  `json:"at"`
}

// Publisher accepts events. Publish must not block on slow consumers.
type Publisher interface {
	Publish(e Event)
}

type multi []Publisher

// Multi fans an event out to every non-nil publisher.
func Multi(publishers ...Publisher) Publisher {
	var m multi
	for _, p := range publishers {
		if p != nil {
			m = append(m, p)
		}
	}
	return m
}

func (m multi) Publish(e Event) {
	for _, p := range m {
		p.Publish(e)
	}
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
