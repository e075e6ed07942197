package event

import "testing"

type recorder struct{ got []Event }

func (r *recorder) Publish(e Event) { r.got = append(r.got, e) }

func TestMultiSkipsNilAndFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	p := Multi(a, nil, b)
	p.Publish(Event{Type: StockChanged})
	p.Publish(Event{Type: InvoiceStatusChanged})

	for name, r := range map[string]*recorder{"a": a, "b": b} {
		if len(r.got) != 2 {
			t.Fatalf("%s: expected 2 events got %d", name, len(r.got))
		}
		if r.got[1].Type != InvoiceStatusChanged {
			t.Fatalf("%s: unexpected order %v", name, r.got)
		}
	}
}

func TestDiscard(t *testing.T) {
	Discard.Publish(Event{Type: StockChanged})
}
