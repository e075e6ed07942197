package model

// Privilege codes carried in operator tokens.
const (
	PrivProductView       = "product:view"
	PrivProductCreate     = "product:create"
	PrivProductUpdate     = "product:update"
	PrivInvoiceView       = "invoice:view"
	PrivInvoiceCreate     = "invoice:create"
	PrivInvoiceTransition = "invoice:transition"
	PrivStockView         = "stock:view"
	PrivStockAdjust       = "stock:adjust"
	PrivSnapshotView      = "snapshot:view"
	PrivSnapshotCreate    = "snapshot:create"
	PrivSnapshotRestore   = "snapshot:restore"
)

// Privilege describes a permission that can be granted in a token.
type Privilege struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var DefaultPrivileges = []Privilege{
	{Code: PrivProductView, Name: "View Product"},
	{Code: PrivProductCreate, Name: "Create Product"},
	{Code: PrivProductUpdate, Name: "Update Product"},
	{Code: PrivInvoiceView, Name: "View Invoice"},
	{Code: PrivInvoiceCreate, Name: "Create Invoice"},
	{Code: PrivInvoiceTransition, Name: "Change Invoice Status"},
	{Code: PrivStockView, Name: "View Stock"},
	{Code: PrivStockAdjust, Name: "Adjust Stock"},
	{Code: PrivSnapshotView, Name: "View Snapshot"},
	{Code: PrivSnapshotCreate, Name: "Create Snapshot"},
	{Code: PrivSnapshotRestore, Name: "Restore Snapshot"},
}

// IsKnownPrivilege reports whether code is one of DefaultPrivileges.
func IsKnownPrivilege(code string) bool {
	for _, p := range DefaultPrivileges {
		if p.Code == code {
			return true
		}
	}
	return false
}
