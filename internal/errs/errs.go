// Package errs 定义协作方返回的带标签错误（Transient / Permanent），
// 任务重试只依据标签判断，未打标签的错误才退化为关键字匹配。
package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/lib/pq"
)

// Kind 错误类别
type Kind int

const (
	KindUnknown   Kind = iota
	KindTransient      // 连接中断、超时等，可重试
	KindPermanent      // 数据错误、逻辑错误，不可重试
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error 带类别标签的错误
type Error struct {
	Kind Kind
	Op   string // 出错的操作，如 "telemetry.query"
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient 标记为可重试错误
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// Permanent 标记为不可重试错误
func Permanent(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindPermanent, Op: op, Err: err}
}

// Transientf 以格式化消息创建可重试错误
func Transientf(op, format string, args ...interface{}) error {
	return Transient(op, fmt.Errorf(format, args...))
}

// Permanentf 以格式化消息创建不可重试错误
func Permanentf(op, format string, args ...interface{}) error {
	return Permanent(op, fmt.Errorf(format, args...))
}

// DefaultTransientKeywords 未打标签错误的兜底关键字（大小写不敏感的子串匹配）
var DefaultTransientKeywords = []string{"timeout", "connection", "connect", "database", "server"}

// Classifier 错误分类器
type Classifier struct {
	Keywords []string
}

// NewClassifier 创建分类器；keywords 为空时使用默认关键字
func NewClassifier(keywords []string) *Classifier {
	if len(keywords) == 0 {
		keywords = DefaultTransientKeywords
	}
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}
	return &Classifier{Keywords: lowered}
}

// Classify 判断错误类别
// 顺序：显式标签 > 上下文取消/超时 > 数据库/网络错误类型 > 关键字
func (c *Classifier) Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var tagged *Error
	if errors.As(err, &tagged) && tagged.Kind != KindUnknown {
		return tagged.Kind
	}

	// 运行截止时间已到或被取消，重试没有意义
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindPermanent
	}

	if kind := classifyPQ(err); kind != KindUnknown {
		return kind
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	msg := strings.ToLower(err.Error())
	for _, k := range c.Keywords {
		if strings.Contains(msg, k) {
			return KindTransient
		}
	}
	return KindPermanent
}

// IsTransient 是否可重试
func (c *Classifier) IsTransient(err error) bool {
	return c.Classify(err) == KindTransient
}

// FromDB 将数据库访问错误打上标签（供 repository 使用）
func FromDB(op string, err error) error {
	if err == nil {
		return nil
	}
	switch classifyPQ(err) {
	case KindTransient:
		return Transient(op, err)
	case KindPermanent:
		return Permanent(op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// classifyPQ 按 SQLSTATE 分类：
// 08 连接异常、53 资源不足、57P01-57P03 服务关闭/不可用、40001/40P01 可重试事务冲突
func classifyPQ(err error) Kind {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return KindUnknown
	}
	code := string(pqErr.Code)
	switch {
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "53"):
		return KindTransient
	case code == "57P01", code == "57P02", code == "57P03":
		return KindTransient
	case code == "40001", code == "40P01":
		return KindTransient
	}
	return KindPermanent
}
