package handler

import (
	"errors"
	"net/http"

	"chat-relay-go/internal/repository"
	"chat-relay-go/internal/service"
	"chat-relay-go/pkg/llm"

	"github.com/gin-gonic/gin"
)

// statusFor 把业务错误映射为 HTTP 状态码。
func statusFor(err error) int {
	var (
		ve *service.ValidationError
		ue *llm.UpstreamError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ue) && ue.StatusCode != 0:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// clientMessage 返回可以展示给客户端的错误描述，存储层细节不外泄。
func clientMessage(err error) string {
	var se *repository.StorageError
	switch {
	case errors.Is(err, service.ErrNotFound):
		return err.Error()
	case errors.As(err, &se):
		return "internal storage error"
	default:
		return err.Error()
	}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), gin.H{"error": clientMessage(err)})
}
