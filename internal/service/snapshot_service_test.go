package service

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"go-invoice-stock/internal/event"
	"go-invoice-stock/internal/model"

	"github.com/google/uuid"
)

// readLines decodes a stored snapshot object.
func readLines(t *testing.T, f *fixture, snap *model.Snapshot) []snapshotLine {
	t.Helper()
	rc, err := f.store.NewReader(testCtx, snap.ObjectKey)
	if err != nil {
		t.Fatalf("open object: %v", err)
	}
	defer rc.Close()
	gz, err := gzip.NewReader(rc)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	var lines []snapshotLine
	dec := json.NewDecoder(gz)
	for {
		var l snapshotLine
		if err := dec.Decode(&l); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("decode: %v", err)
		}
		lines = append(lines, l)
	}
	return lines
}

func TestCreateSnapshotWritesEveryTable(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, "Acme")
	f.customer(t, "Globex")
	tee := f.product(t, "TEE", 0, map[string]int{"TEE-S": 3, "TEE-M": 4, "TEE-L": 5})
	mug := f.product(t, "MUG", 7, nil)
	f.product(t, "CAP", 2, nil)
	f.draft(t, c.ID, line(mug.ID, nil, 1), line(tee.ID, vid(variantBySKU(t, tee, "TEE-M")), 2))

	snap, err := f.snapshots.CreateSnapshot(testCtx)
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	want := model.TableCounts{Products: 3, Variants: 3, Customers: 2, Invoices: 1, InvoiceItems: 2}
	if snap.Counts != want {
		t.Errorf("counts = %+v, want %+v", snap.Counts, want)
	}
	if len(snap.Checksum) != 64 || snap.SizeBytes == 0 {
		t.Errorf("checksum %q size %d", snap.Checksum, snap.SizeBytes)
	}
	if !strings.HasSuffix(snap.ObjectKey, ".ndjson.gz") {
		t.Errorf("object key = %s", snap.ObjectKey)
	}

	lines := readLines(t, f, snap)
	if lines[0].Kind != lineHeader || lines[0].Version != snapshotFormatVersion {
		t.Errorf("first line = %+v", lines[0])
	}
	last := lines[len(lines)-1]
	if last.Kind != lineFooter || last.Counts == nil || *last.Counts != want {
		t.Errorf("footer = %+v", last)
	}
	order := map[string]int{lineCustomer: 1, lineProduct: 2, lineInvoice: 3}
	prev := 0
	for _, l := range lines[1 : len(lines)-1] {
		if order[l.Kind] < prev {
			t.Fatalf("%s line after a later table", l.Kind)
		}
		prev = order[l.Kind]
	}

	stored, err := f.snapshots.GetSnapshot(testCtx, snap.ID)
	if err != nil || stored.Checksum != snap.Checksum {
		t.Fatalf("GetSnapshot: %v %+v", err, stored)
	}
	list, err := f.snapshots.ListSnapshots(testCtx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListSnapshots: %v len=%d", err, len(list))
	}
	if n := f.events.count(event.SnapshotCreated); n != 1 {
		t.Errorf("snapshot events = %d, want 1", n)
	}
}

func TestCreateSnapshotCancelled(t *testing.T) {
	f := newFixture(t)
	f.product(t, "MUG", 7, nil)

	ctx, cancel := context.WithCancel(testCtx)
	cancel()
	_, err := f.snapshots.CreateSnapshot(ctx)
	var ae *ArchiveError
	if !errors.As(err, &ae) || ae.Stage != "cancelled" {
		t.Fatalf("expected cancelled ArchiveError, got %v", err)
	}
	list, err := f.snapshots.ListSnapshots(testCtx)
	if err != nil || len(list) != 0 {
		t.Fatalf("snapshots recorded after cancel: %v %d", err, len(list))
	}
}

func TestGetSnapshotNotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.snapshots.GetSnapshot(testCtx, uuid.New()); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("got %v", err)
	}
}

// encodeSnapshot writes lines as a snapshot object and records its metadata.
func encodeSnapshot(t *testing.T, f *fixture, key string, lines []snapshotLine) *model.Snapshot {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	var counts model.TableCounts
	for _, l := range lines {
		switch l.Kind {
		case lineCustomer:
			counts.Customers++
		case lineProduct:
			counts.Products++
			counts.Variants += int64(len(l.Product.Variants))
		case lineInvoice:
			counts.Invoices++
			counts.InvoiceItems += int64(len(l.Invoice.Items))
		}
		if err := enc.Encode(l); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	if err := enc.Encode(snapshotLine{Kind: lineFooter, Counts: &counts}); err != nil {
		t.Fatalf("encode footer: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip: %v", err)
	}

	w, err := f.store.NewWriter(testCtx, key)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	snap := &model.Snapshot{ObjectKey: key, Checksum: checksum(buf.Bytes()), SizeBytes: int64(buf.Len()), Counts: counts}
	if err := f.snapRepo.Create(testCtx, snap); err != nil {
		t.Fatalf("record snapshot: %v", err)
	}
	return snap
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestSnapshotKeepsCatalogOrdering(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, "Acme")
	tee := f.product(t, "TEE", 0, map[string]int{"TEE-M": 1, "TEE-S": 1})
	if _, err := f.catalog.AddVariant(testCtx, tee.ID, &VariantInput{SKU: "TEE-A", Qty: 1}, "tester"); err != nil {
		t.Fatalf("AddVariant: %v", err)
	}
	mug := f.product(t, "MUG", 5, nil)
	inv := f.draft(t, c.ID, line(tee.ID, vid(variantBySKU(t, tee, "TEE-S")), 1), line(mug.ID, nil, 1))

	loaded, err := f.catalog.GetProduct(testCtx, tee.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	stored, err := f.invoice.GetInvoice(testCtx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	snap, err := f.snapshots.CreateSnapshot(testCtx)
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	for _, l := range readLines(t, f, snap) {
		switch {
		case l.Kind == lineProduct && l.Product.ID == tee.ID:
			if len(l.Product.Variants) != len(loaded.Variants) {
				t.Fatalf("snapshot variants = %d, want %d", len(l.Product.Variants), len(loaded.Variants))
			}
			for i := range loaded.Variants {
				if l.Product.Variants[i].ID != loaded.Variants[i].ID {
					t.Errorf("variant %d: snapshot %s, load %s", i, l.Product.Variants[i].SKU, loaded.Variants[i].SKU)
				}
			}
		case l.Kind == lineInvoice:
			if len(l.Invoice.Items) != len(stored.Items) {
				t.Fatalf("snapshot items = %d, want %d", len(l.Invoice.Items), len(stored.Items))
			}
			for i := range stored.Items {
				if l.Invoice.Items[i].ID != stored.Items[i].ID {
					t.Errorf("item %d out of order", i)
				}
			}
		}
	}
}
