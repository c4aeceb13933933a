package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/entitlement_server/internal/pkg/apperr"
)

// 错误类型对应的 HTTP 状态码
var kindStatus = map[apperr.Kind]int{
	apperr.KindUnauthorized:    http.StatusUnauthorized,
	apperr.KindForbidden:       http.StatusForbidden,
	apperr.KindNotFound:        http.StatusNotFound,
	apperr.KindInvalidState:    http.StatusConflict,
	apperr.KindInvalidArgument: http.StatusBadRequest,
	apperr.KindConflict:        http.StatusConflict,
	apperr.KindInternal:        http.StatusInternalServerError,
}

// 错误类型对应的默认消息
var kindMessages = map[apperr.Kind]string{
	apperr.KindUnauthorized:    "authentication required",
	apperr.KindForbidden:       "permission denied",
	apperr.KindNotFound:        "resource not found",
	apperr.KindInvalidState:    "operation not allowed in current state",
	apperr.KindInvalidArgument: "invalid argument",
	apperr.KindConflict:        "concurrent modification, please retry",
	apperr.KindInternal:        "internal server error",
}

// Response 统一响应结构
type Response struct {
	Success bool        `json:"success"`
	Kind    string      `json:"kind,omitempty"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// PageData 分页数据结构
type PageData struct {
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Items    interface{} `json:"items"`
}

// StatusFor 返回错误类型对应的 HTTP 状态码
func StatusFor(kind apperr.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	SuccessWithMessage(c, "success", data)
}

// SuccessWithMessage 带自定义消息的成功响应
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// SuccessPage 分页成功响应
func SuccessPage(c *gin.Context, total int64, page, pageSize int, items interface{}) {
	Success(c, PageData{
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Items:    items,
	})
}

// Error 错误响应
func Error(c *gin.Context, kind apperr.Kind, message string) {
	if message == "" {
		message = kindMessages[kind]
	}
	c.JSON(StatusFor(kind), Response{
		Success: false,
		Kind:    string(kind),
		Message: message,
		Data:    nil,
	})
}

// Fail 根据 error 的类型输出错误响应，非业务错误不暴露细节
func Fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	message := apperr.Message(err)
	if kind == apperr.KindInternal {
		_ = c.Error(err)
		message = ""
	}
	Error(c, kind, message)
}

// ParamError 参数错误
func ParamError(c *gin.Context, message string) {
	Error(c, apperr.KindInvalidArgument, message)
}

// AuthError 认证失败
func AuthError(c *gin.Context, message string) {
	Error(c, apperr.KindUnauthorized, message)
}

// PermissionError 权限不足
func PermissionError(c *gin.Context, message string) {
	Error(c, apperr.KindForbidden, message)
}

// NotFoundError 资源不存在
func NotFoundError(c *gin.Context, message string) {
	Error(c, apperr.KindNotFound, message)
}

// ServerError 服务器错误
func ServerError(c *gin.Context, message string) {
	Error(c, apperr.KindInternal, message)
}
