// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"
	ErrorUpstream      = "UPSTREAM_ERROR"
	ErrorTimeout       = "TIMEOUT"
	ErrorCancelled     = "CANCELLED"

	// 任务相关错误
	ErrorTaskNotFound = "TASK_NOT_FOUND"
	ErrorTaskFinished = "TASK_FINISHED"

	// 生成相关错误
	ErrorSearchFailed = "SEARCH_FAILED"
	ErrorSpeechFailed = "SPEECH_FAILED"
	ErrorEraNotFound  = "ERA_NOT_FOUND"

	// 地理编码与媒体
	ErrorGeocodeFailed = "GEOCODE_FAILED"
	ErrorMediaNotFound = "MEDIA_NOT_FOUND"
)

// 面向用户的错误消息
const (
	MsgSearchRateLimited = "Server is busy (Rate Limit Exceeded). Please wait a moment before searching again."
	MsgSearchFailed      = "Could not retrieve historical data. Please check the API key or try another location."
	MsgSpeechQuota       = "Unable to generate speech. Quota may be exceeded."
	MsgSpeechFailed      = "Unable to generate speech."
	MsgClientRateLimited = "Rate limit exceeded"
)
