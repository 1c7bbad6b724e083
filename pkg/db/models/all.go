package models

// All lists every model owned by this service, in dependency order. Tests and
// the SQLite dev mode migrate these directly.
func All() []any {
	return []any{
		&Shop{},
		&Product{},
		&StockRecord{},
		&StockMovement{},
		&Sale{},
		&SaleLine{},
		&StockTransfer{},
		&Alert{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
