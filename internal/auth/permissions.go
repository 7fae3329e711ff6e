package auth

// Permission keys. The catalog is global; grants are tenant-scoped.
const (
	PermLeadCreate         = "lead.create"
	PermLeadView           = "lead.view"
	PermLeadAssign         = "lead.assign"
	PermLeadConvert        = "lead.convert"
	PermClientCreate       = "client.create"
	PermClientView         = "client.view"
	PermClientUpdate       = "client.update"
	PermSubscriptionCreate = "subscription.create"
	PermSubscriptionCancel = "subscription.cancel"
	PermSubscriptionRenew  = "subscription.renew"
	PermInvoiceCreate      = "invoice.create"
	PermInvoiceView        = "invoice.view"
	PermPaymentRecord      = "payment.record"
	PermEmployeeManage     = "employee.manage"
	PermDashboardView      = "dashboard.view"
	PermPlanManage         = "plan.manage"
)

// Catalog lists every known permission for seeding. Ensure is idempotent on
// the key.
var Catalog = []Permission{
	{Key: PermLeadCreate, Description: "Create leads"},
	{Key: PermLeadView, Description: "View leads"},
	{Key: PermLeadAssign, Description: "Assign leads to employees"},
	{Key: PermLeadConvert, Description: "Convert leads into clients"},
	{Key: PermClientCreate, Description: "Create clients"},
	{Key: PermClientView, Description: "View clients"},
	{Key: PermClientUpdate, Description: "Update clients"},
	{Key: PermSubscriptionCreate, Description: "Create subscriptions"},
	{Key: PermSubscriptionCancel, Description: "Cancel subscriptions"},
	{Key: PermSubscriptionRenew, Description: "Renew subscriptions"},
	{Key: PermInvoiceCreate, Description: "Create invoices"},
	{Key: PermInvoiceView, Description: "View invoices"},
	{Key: PermPaymentRecord, Description: "Record payments"},
	{Key: PermEmployeeManage, Description: "Manage employees and see all tenant data"},
	{Key: PermDashboardView, Description: "View dashboards"},
	{Key: PermPlanManage, Description: "Manage subscription plans"},
}

// AllPermissionKeys returns the full catalog key set, in catalog order.
func AllPermissionKeys() []string {
	keys := make([]string, 0, len(Catalog))
	for _, p := range Catalog {
		keys = append(keys, p.Key)
	}
	return keys
}

// DefaultGrants maps each tenant role category to its seeded permission keys.
// OWNER holds the entire catalog; ADMIN everything but employee/plan
// management; EMPLOYEE a read-mostly subset.
var DefaultGrants = map[TenantRole][]string{
	TenantRoleOwner: AllPermissionKeys(),
	TenantRoleAdmin: {
		PermLeadCreate, PermLeadView, PermLeadAssign, PermLeadConvert,
		PermClientCreate, PermClientView, PermClientUpdate,
		PermSubscriptionCreate, PermSubscriptionCancel, PermSubscriptionRenew,
		PermInvoiceCreate, PermInvoiceView, PermPaymentRecord,
		PermDashboardView,
	},
	TenantRoleEmployee: {
		PermLeadCreate, PermLeadView, PermClientView, PermDashboardView,
	},
}
