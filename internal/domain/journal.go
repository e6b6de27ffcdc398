package domain

// Bundle journal statuses.
const (
	BundleStatusApplied  = "applied"
	BundleStatusRejected = "rejected"
)

// BundleRecord is one row of the execution journal: the audit trail of
// every bundle submitted to the engine. Corresponds to the bundles table
// in PostgreSQL.
type BundleRecord struct {
	ID             int64  // BIGSERIAL primary key
	Window         uint64 // execution window the bundle applied to
	BundleHash     string // hex sha256 of the raw bundle bytes
	Submitter      string // base58 address of the submitting node
	PriorityOrders int    // priority order count
	UserOrders     int    // user order count
	Status         string // "applied" | "rejected"
	Reason         string // rejection reason, empty when applied
	CreatedAt      int64  // record creation timestamp (ms)
}
