package model

// Identity is the decoded, structurally validated subject of a verified
// token, bound to the tenant whose namespace the connection targeted.
type Identity struct {
	UserID   string `json:"user_id"`
	TenantID int64  `json:"tenant_id"`
}
