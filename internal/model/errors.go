package model

import "errors"

var ErrLedgerImmutable = errors.New("stock ledger entries are append-only")
