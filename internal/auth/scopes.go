package auth

const (
	ScopeOpenID       = "openid"
	ScopeProfile      = "profile"
	ScopeEmail        = "email"
	ScopeSignalsWrite = "signals:write"
	ScopeRoutesManage = "routes:manage"
	ScopeLineageRead  = "lineage:read"
	ScopeGatesDecide  = "gates:decide"
	ScopeAIExecute    = "ai:execute"
)

// AllScopes defines the full set of scopes requested by the Swagger UI.
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeSignalsWrite,
	ScopeRoutesManage,
	ScopeLineageRead,
	ScopeGatesDecide,
	ScopeAIExecute,
}
