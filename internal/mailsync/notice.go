package mailsync

import (
	"time"

	"go.uber.org/zap"

	"tempmail/client/internal/domain"
)

// NoticeKind 通知类型
type NoticeKind string

const (
	NoticeNewMail        NoticeKind = "new_mail"
	NoticeAddressChanged NoticeKind = "address_changed"
	NoticeRequestFailed  NoticeKind = "request_failed"
	NoticeConnectionLost NoticeKind = "connection_lost"
)

// Level 通知级别
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notice 同步过程中需要提示给用户的事件
type Notice struct {
	Kind       NoticeKind       `json:"kind"`
	Level      Level            `json:"level"`
	Address    string           `json:"address"`
	Generation uint64           `json:"generation"`
	Message    string           `json:"message,omitempty"`
	Envelope   *domain.Envelope `json:"envelope,omitempty"`
	Time       time.Time        `json:"time"`
}

// Notifier 接收同步通知。实现不能阻塞，否则会拖慢同步循环。
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc 把普通函数适配为 Notifier
type NotifierFunc func(n Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// MultiNotifier 把通知依次转发给多个 Notifier
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(n Notice) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(n)
		}
	}
}

// LogNotifier 把通知写入日志
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier 创建日志通知器
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notice")}
}

func (l *LogNotifier) Notify(n Notice) {
	fields := []zap.Field{
		zap.String("kind", string(n.Kind)),
		zap.String("address", n.Address),
		zap.Uint64("generation", n.Generation),
	}
	if n.Envelope != nil {
		fields = append(fields,
			zap.Int64("id", n.Envelope.ID),
			zap.String("from", n.Envelope.From),
			zap.String("subject", n.Envelope.Subject),
		)
	}
	switch n.Level {
	case LevelError:
		l.log.Error(n.Message, fields...)
	case LevelWarn:
		l.log.Warn(n.Message, fields...)
	default:
		l.log.Info(n.Message, fields...)
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(Notice) {}

// Recorder 记录同步循环的指标
type Recorder interface {
	ObservePoll(outcome string)
	SetFailureStreak(n int)
	AddEnvelopes(n int)
}

type nopRecorder struct{}

func (nopRecorder) ObservePoll(string)   {}
func (nopRecorder) SetFailureStreak(int) {}
func (nopRecorder) AddEnvelopes(int)     {}

// 长轮询结果，用作指标标签
const (
	OutcomeDelivered = "delivered"
	OutcomeDuplicate = "duplicate"
	OutcomeEmpty     = "empty"
	OutcomeFailed    = "failed"
)
