package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 匹配所有 NotFoundError。
	ErrNotFound = errors.New("not found")
	// ErrUpstreamNotConfigured 表示服务端没有配置上游 API Key。
	ErrUpstreamNotConfigured = errors.New("upstream API key is not configured")
)

// ValidationError 表示客户端输入不合法，对应 HTTP 400。
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NotFoundError 表示引用的资源不存在，对应 HTTP 404。
type NotFoundError struct {
	Resource string
	ID       uint
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
