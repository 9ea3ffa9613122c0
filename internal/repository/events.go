package repository

const (
	// TopicChargeAuthorized carries a model.ChargeEvent for every committed debit.
	TopicChargeAuthorized = "charges.authorized"

	// ChargeWorkerGroup is the queue group shared by all audit workers so that
	// each event is recorded by exactly one of them.
	ChargeWorkerGroup = "charge_audit"
)
