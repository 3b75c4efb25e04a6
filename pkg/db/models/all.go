package models

// All lists every model for AutoMigrate in dev and in tests.
func All() []any {
	return []any{
		&ProductVariant{},
		&InventoryLevel{},
		&Cart{},
		&CartItem{},
		&Order{},
		&OrderItem{},
		&Payment{},
		&SecurityEvent{},
		&OutboxEvent{},
	}
}
