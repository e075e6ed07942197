package service

import (
	"errors"
	"sync"
	"testing"

	"go-invoice-stock/internal/event"
	"go-invoice-stock/internal/model"

	"github.com/google/uuid"
)

func TestSendDeductsStock(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, "Acme")
	p := f.product(t, "TEE", 0, map[string]int{"TEE-S": 10})
	v := variantBySKU(t, p, "TEE-S")
	inv := f.draft(t, c.ID, line(p.ID, vid(v), 5))

	res, err := f.invoice.ChangeStatus(testCtx, inv.ID, model.InvoiceSent, "tester")
	if err != nil {
		t.Fatalf("ChangeStatus: %v", err)
	}
	if res.Report.Action != StockActionDeduct || res.Report.BatchID == nil {
		t.Errorf("report = %+v", res.Report)
	}
	if !res.Invoice.StockProcessed || res.Invoice.Status != model.InvoiceSent {
		t.Errorf("invoice = %s processed=%v", res.Invoice.Status, res.Invoice.StockProcessed)
	}
	if got := f.qty(t, p.ID, vid(v)); got != 5 {
		t.Errorf("qty = %d, want 5", got)
	}
	entries := f.entries(t, p.ID, vid(v))
	if len(entries) != 1 || entries[0].Delta != -5 || entries[0].Reason != model.ReasonInvoiceSent {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].InvoiceID == nil || *entries[0].InvoiceID != inv.ID {
		t.Error("entry must carry the invoice id")
	}
	if n := f.events.count(event.InvoiceStatusChanged); n != 1 {
		t.Errorf("status events = %d, want 1", n)
	}
}

func TestSendWithInsufficientStockChangesNothing(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, "Acme")
	p := f.product(t, "TEE", 0, map[string]int{"TEE-S": 3})
	v := variantBySKU(t, p, "TEE-S")
	inv := f.draft(t, c.ID, line(p.ID, vid(v), 5))

	res, err := f.invoice.ChangeStatus(testCtx, inv.ID, model.InvoiceSent, "tester")
	var short *InsufficientStockError
	if !errors.As(err, &short) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if short.Items[0].Requested != 5 || short.Items[0].Available != 3 {
		t.Errorf("shortfall = %+v", short.Items[0])
	}
	if res == nil || len(res.Report.Items) != 1 || res.Report.Items[0].Error == "" {
		t.Errorf("failure report missing: %+v", res)
	}
	if got := f.qty(t, p.ID, vid(v)); got != 3 {
		t.Errorf("qty = %d, want 3", got)
	}
	if n := f.ledgerCount(t); n != 0 {
		t.Errorf("ledger entries = %d, want 0", n)
	}
	cur, _ := f.invoice.GetInvoice(testCtx, inv.ID)
	if cur.Status != model.InvoiceDraft || cur.StockProcessed {
		t.Errorf("invoice moved to %s processed=%v", cur.Status, cur.StockProcessed)
	}
}

func TestSendWithUnknownVariantTouchesNoItem(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, "Acme")
	a := f.product(t, "TEE", 0, map[string]int{"TEE-S": 10})
	b := f.product(t, "CAP", 0, map[string]int{"CAP-RED": 4})
	va := variantBySKU(t, a, "TEE-S")
	missing := uuid.New()
	inv := f.draft(t, c.ID, line(a.ID, vid(va), 2), line(b.ID, &missing, 1))

	res, err := f.invoice.ChangeStatus(testCtx, inv.ID, model.InvoiceSent, "tester")
	if !errors.Is(err, ErrVariantNotFound) {
		t.Fatalf("expected VariantNotFound, got %v", err)
	}
	var te *TransitionError
	if !errors.As(err, &te) || len(te.Items) != 1 || te.Items[0].Index != 1 {
		t.Errorf("transition error = %+v", te)
	}
	if res == nil || len(res.Report.Items) != 1 || res.Report.Items[0].Index != 1 {
		t.Errorf("report = %+v", res)
	}
	if got := f.qty(t, a.ID, vid(va)); got != 10 {
		t.Errorf("item A qty = %d, want untouched 10", got)
	}
	if n := f.ledgerCount(t); n != 0 {
		t.Errorf("ledger entries = %d, want 0", n)
	}
}

func TestRevertToDraftRestoresStock(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, "Acme")
	p := f.product(t, "TEE", 0, map[string]int{"TEE-S": 10})
	v := variantBySKU(t, p, "TEE-S")
	inv := f.draft(t, c.ID, line(p.ID, vid(v), 5))

	if _, err := f.invoice.ChangeStatus(testCtx, inv.ID, model.InvoiceSent, "tester"); err != nil {
		t.Fatalf("send: %v", err)
	}
	res, err := f.invoice.ChangeStatus(testCtx, inv.ID, model.InvoiceDraft, "tester")
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if res.Report.Action != StockActionRestore || res.Invoice.StockProcessed {
		t.Errorf("result = %+v processed=%v", res.Report, res.Invoice.StockProcessed)
	}
	if got := f.qty(t, p.ID, vid(v)); got != 10 {
		t.Errorf("qty = %d, want 10", got)
	}

	entries := f.entries(t, p.ID, vid(v))
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	net, seen := 0, map[model.LedgerReason]int{}
	for _, e := range entries {
		net += e.Delta
		seen[e.Reason] = e.Delta
	}
	if net != 0 || seen[model.ReasonInvoiceSent] != -5 || seen[model.ReasonInvoiceReverted] != 5 {
		t.Errorf("ledger = %+v", entries)
	}

	// editable again and sendable a second time
	if _, err := f.invoice.UpdateItems(testCtx, inv.ID, []InvoiceItemInput{line(p.ID, vid(v), 7)}); err != nil {
		t.Fatalf("update items after revert: %v", err)
	}
	if _, err := f.invoice.ChangeStatus(testCtx, inv.ID, model.InvoiceSent, "tester"); err != nil {
		t.Fatalf("resend: %v", err)
	}
	if got := f.qty(t, p.ID, vid(v)); got != 3 {
		t.Errorf("qty after resend = %d, want 3", got)
	}
	f.assertReconciled(t)
}

func TestSendTwiceIsAlreadyProcessed(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, "Acme")
	p := f.product(t, "MUG", 10, nil)
	inv := f.draft(t, c.ID, line(p.ID, nil, 4))

	if _, err := f.invoice.ChangeStatus(testCtx, inv.ID, model.InvoiceSent, "tester"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := f.invoice.ChangeStatus(testCtx, inv.ID, model.InvoiceSent, "tester"); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("second send: want AlreadyProcessed, got %v", err)
	}
	if got := f.qty(t, p.ID, nil); got != 6 {
		t.Errorf("qty = %d, want 6", got)
	}
}

func TestCancelRestoresProcessedInvoice(t *testing.T) {
	tests := []struct {
		name string
		path []model.InvoiceStatus
		want int
	}{
		{"draft", []model.InvoiceStatus{model.InvoiceCancelled}, 10},
		{"sent", []model.InvoiceStatus{model.InvoiceSent, model.InvoiceCancelled}, 10},
		{"overdue", []model.InvoiceStatus{model.InvoiceSent, model.InvoiceOverdue, model.InvoiceCancelled}, 10},
		{"paid keeps deduction", []model.InvoiceStatus{model.InvoiceSent, model.InvoicePaid}, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := f.customer(t, "Acme")
			p := f.product(t, "MUG", 10, nil)
			inv := f.draft(t, c.ID, line(p.ID, nil, 3))
			for _, to := range tt.path {
				if _, err := f.invoice.ChangeStatus(testCtx, inv.ID, to, "tester"); err != nil {
					t.Fatalf("-> %s: %v", to, err)
				}
			}
			if got := f.qty(t, p.ID, nil); got != tt.want {
				t.Errorf("qty = %d, want %d", got, tt.want)
			}
			f.assertReconciled(t)
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, "Acme")
	p := f.product(t, "MUG", 10, nil)

	tests := []struct {
		name string
		path []model.InvoiceStatus
		to   model.InvoiceStatus
	}{
		{"draft to paid", nil, model.InvoicePaid},
		{"draft to overdue", nil, model.InvoiceOverdue},
		{"unknown status", nil, model.InvoiceStatus("archived")},
		{"paid is terminal", []model.InvoiceStatus{model.InvoiceSent, model.InvoicePaid}, model.InvoiceCancelled},
		{"cancelled is terminal", []model.InvoiceStatus{model.InvoiceCancelled}, model.InvoiceDraft},
		{"overdue back to sent", []model.InvoiceStatus{model.InvoiceSent, model.InvoiceOverdue}, model.InvoiceSent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := f.draft(t, c.ID, line(p.ID, nil, 1))
			for _, to := range tt.path {
				if _, err := f.invoice.ChangeStatus(testCtx, inv.ID, to, "tester"); err != nil {
					t.Fatalf("-> %s: %v", to, err)
				}
			}
			before := f.ledgerCount(t)
			_, err := f.invoice.ChangeStatus(testCtx, inv.ID, tt.to, "tester")
			var ite *InvalidTransitionError
			if !errors.As(err, &ite) || ite.To != tt.to {
				t.Fatalf("expected InvalidTransitionError, got %v", err)
			}
			if after := f.ledgerCount(t); after != before {
				t.Errorf("ledger grew from %d to %d", before, after)
			}
		})
	}
}

func TestSendResumesAfterInterruptedTransition(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, "Acme")
	p := f.product(t, "MUG", 10, nil)
	inv := f.draft(t, c.ID, line(p.ID, nil, 4))

	// the deduction committed but the status write never happened
	_, err := f.ledger.ApplyBatch(testCtx, Batch{
		Reason:    model.ReasonInvoiceSent,
		InvoiceID: &inv.ID,
		Items:     []BatchItem{{ProductID: p.ID, Delta: -4}},
	})
	if err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}

	res, err := f.invoice.ChangeStatus(testCtx, inv.ID, model.InvoiceSent, "tester")
	if err != nil {
		t.Fatalf("ChangeStatus: %v", err)
	}
	if res.Report.Action != StockActionResumed {
		t.Errorf("action = %s, want %s", res.Report.Action, StockActionResumed)
	}
	if !res.Invoice.StockProcessed {
		t.Error("invoice must be marked processed")
	}
	if got := f.qty(t, p.ID, nil); got != 6 {
		t.Errorf("qty = %d, want 6", got)
	}
	if n := f.ledgerCount(t); n != 1 {
		t.Errorf("ledger entries = %d, want 1", n)
	}
}

func TestItemsLockedAfterSend(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, "Acme")
	p := f.product(t, "MUG", 10, nil)
	inv := f.draft(t, c.ID, line(p.ID, nil, 2))

	if _, err := f.invoice.UpdateItems(testCtx, inv.ID, []InvoiceItemInput{line(p.ID, nil, 3)}); err != nil {
		t.Fatalf("update draft: %v", err)
	}
	if _, err := f.invoice.ChangeStatus(testCtx, inv.ID, model.InvoiceSent, "tester"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := f.invoice.UpdateItems(testCtx, inv.ID, []InvoiceItemInput{line(p.ID, nil, 9)}); !errors.Is(err, ErrInvoiceLocked) {
		t.Fatalf("update sent invoice: want ErrInvoiceLocked, got %v", err)
	}
	if got := f.qty(t, p.ID, nil); got != 7 {
		t.Errorf("qty = %d, want 7", got)
	}
}

func TestConcurrentSendsNeverOversell(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, "Acme")
	p := f.product(t, "TEE", 0, map[string]int{"TEE-S": 6})
	v := variantBySKU(t, p, "TEE-S")
	first := f.draft(t, c.ID, line(p.ID, vid(v), 4))
	second := f.draft(t, c.ID, line(p.ID, vid(v), 4))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []uuid.UUID{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = f.invoice.ChangeStatus(testCtx, id, model.InvoiceSent, "tester")
		}(i, id)
	}
	wg.Wait()

	ok, short := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientStock):
			short++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || short != 1 {
		t.Fatalf("successes=%d shortfalls=%d, want 1 and 1", ok, short)
	}
	if got := f.qty(t, p.ID, vid(v)); got != 2 {
		t.Errorf("qty = %d, want 2", got)
	}
	f.assertReconciled(t)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to model.InvoiceStatus
		want     bool
	}{
		{model.InvoiceDraft, model.InvoiceSent, true},
		{model.InvoiceDraft, model.InvoicePending, true},
		{model.InvoicePending, model.InvoiceSent, true},
		{model.InvoiceSent, model.InvoiceDraft, true},
		{model.InvoiceSent, model.InvoicePaid, true},
		{model.InvoiceOverdue, model.InvoicePaid, true},
		{model.InvoicePaid, model.InvoiceDraft, false},
		{model.InvoiceCancelled, model.InvoiceSent, false},
		{model.InvoiceDraft, model.InvoiceDraft, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
