package model

// TenantSettings are per-workspace behavior flags read synchronously by the
// lifecycle engine and the call monitor.
type TenantSettings struct {
	TenantID             int64  `json:"tenant_id"`
	AcceptCall           bool   `json:"accept_call"`
	MissedCallMessage    string `json:"missed_call_message"`
	RequiredTagOnClose   bool   `json:"required_tag_on_close"`
	FarewellMessage      string `json:"farewell_message"`
	ClearAssigneeOnClose bool   `json:"clear_assignee_on_close"`
}

// DefaultTenantSettings is used when a tenant has no settings row yet.
func DefaultTenantSettings(tenantID int64) *TenantSettings {
	return &TenantSettings{
		TenantID:             tenantID,
		AcceptCall:           false,
		RequiredTagOnClose:   false,
		ClearAssigneeOnClose: true,
	}
}
