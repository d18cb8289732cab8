package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/garyjia/approval-chain/internal/application/port"
	"github.com/garyjia/approval-chain/internal/domain/event"
)

// DefaultSubjectPrefix is used when no prefix is configured
const DefaultSubjectPrefix = "approval.completed"

// msgPublisher is the part of *nats.Conn the publisher needs
type msgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// NATSPublisher publishes completions to <prefix>.<subject_type>.<outcome>.
// The Nats-Msg-Id header lets JetStream streams drop redelivered duplicates.
type NATSPublisher struct {
	conn   msgPublisher
	prefix string
	logger *zap.Logger
}

// NewNATSPublisher creates a publisher on an open connection
func NewNATSPublisher(conn msgPublisher, prefix string, logger *zap.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{
		conn:   conn,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: logger,
	}
}

// Connect opens a NATS connection that reconnects indefinitely and logs state changes
func Connect(url, name string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return conn, nil
}

// Subject returns the subject a completion is published on
func (p *NATSPublisher) Subject(completion event.Completion) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, subjectToken(completion.SubjectType), strings.ToLower(completion.Outcome))
}

// PublishCompletion publishes the JSON encoded completion
func (p *NATSPublisher) PublishCompletion(ctx context.Context, completion event.Completion) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(completion)
	if err != nil {
		return fmt.Errorf("failed to encode completion: %w", err)
	}

	msg := nats.NewMsg(p.Subject(completion))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, fmt.Sprintf("completion-%d", completion.RequestID))
	msg.Header.Set("Approval-Outcome", completion.Outcome)

	if err := p.conn.PublishMsg(msg); err != nil {
		p.logger.Error("Failed to publish completion",
			zap.String("subject", msg.Subject),
			zap.Int64("request_id", completion.RequestID),
			zap.Error(err))
		return fmt.Errorf("nats publish %s: %w", msg.Subject, err)
	}

	p.logger.Debug("Completion published",
		zap.String("subject", msg.Subject),
		zap.Int64("request_id", completion.RequestID))
	return nil
}

// subjectToken makes a subject type safe for use as a single NATS token
func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

var _ port.CompletionPublisher = (*NATSPublisher)(nil)
