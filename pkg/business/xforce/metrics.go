package xforce

// 观测组件名与操作名。
const (
	MetricsComponent = "xforce"

	MetricsOpExchange       = "token_exchange"
	MetricsOpForceReconnect = "force_reconnect"
	MetricsOpQuery          = "query"
	MetricsOpQueryMore      = "query_more"
	MetricsOpQueryAll       = "query_all"
	MetricsOpSearch         = "search"
	MetricsOpCreate         = "create"
	MetricsOpUpdate         = "update"
	MetricsOpDelete         = "delete"
	MetricsOpRetrieve       = "retrieve"

	MetricsAttrSObject   = "xforce.sobject"
	MetricsAttrStatus    = "http.status_code"
	MetricsAttrPages     = "xforce.pages"
	MetricsAttrRecords   = "xforce.records"
	MetricsAttrAttempts  = "xforce.attempts"
	MetricsAttrRequestID = "xforce.request_id"
)
