package repository

import (
	"errors"
	"fmt"
)

// ErrConversationNotFound 表示引用的会话不存在（外键约束失败）。
var ErrConversationNotFound = errors.New("conversation not found")

// StorageError 包装底层存储引擎返回的错误，Op 标识失败的操作。
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
