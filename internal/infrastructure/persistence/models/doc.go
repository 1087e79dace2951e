// Package models contains GORM persistence models that map to database tables.
// They are kept apart from the domain types so the domain stays free of ORM
// tags; each model has ToDomain/FromDomain mappers.
//
// Tables:
//   - batches: BatchModel, one row per received lot
//   - products: ProductModel, medication and vaccine master data
//   - audit_outbox: OutboxEntryModel, audit events awaiting delivery
//   - deduction_requests: DeductionRequestModel, committed deductions by idempotency key
package models

// All returns every model for AutoMigrate
func All() []any {
	return []any{
		&ProductModel{},
		&BatchModel{},
		&OutboxEntryModel{},
		&DeductionRequestModel{},
	}
}
