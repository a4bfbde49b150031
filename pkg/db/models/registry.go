package models

// All lists every persisted model in dependency order, for AutoMigrate.
func All() []any {
	return []any{
		&Listing{},
		&ListingImage{},
		&Cart{},
		&CartItem{},
		&OrderItemSnapshot{},
		&Order{},
		&OrderItem{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
