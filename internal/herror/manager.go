package herror

import (
	"context"

	"go.uber.org/zap"

	"github.com/voicebridge/hub/internal/audit"
	"github.com/voicebridge/hub/internal/policy"
)

// Manager constructs outbound error envelopes and records security
// events to the structured logger and, when configured, the audit sink.
type Manager struct {
	log   *zap.Logger
	audit audit.Sink
}

// NewManager builds a Manager. sink is typically the result of
// audit.NewSink, which is an in-memory sink when no DATABASE_URL is
// configured.
func NewManager(log *zap.Logger, sink audit.Sink) *Manager {
	return &Manager{log: log, audit: sink}
}

// FromError maps a generic Go error to a SYSTEM_INTERNAL_ERROR envelope;
// callers that already have a Code should use New directly instead.
func (m *Manager) FromError(err error, operation string) Envelope {
	m.log.Error("unhandled error", zap.Error(err), zap.String("operation", operation))
	return New(CodeSystemInternal, err.Error(), false, &Details{Operation: operation})
}

// LogSecurityEvent records an authentication/authorization event to the
// structured logger and, if present, the durable audit sink.
func (m *Manager) LogSecurityEvent(ctx context.Context, code Code, adminID, remoteAddr, operation, reason string) {
	reason, _ = policy.RedactPII(reason)
	m.log.Warn("security event",
		zap.String("errorCode", string(code)),
		zap.String("adminId", adminID),
		zap.String("remoteAddr", remoteAddr),
		zap.String("operation", operation),
		zap.String("reason", reason),
	)
	if m.audit == nil {
		return
	}
	if err := m.audit.Record(ctx, audit.Event{
		Code:       string(code),
		AdminID:    adminID,
		RemoteAddr: remoteAddr,
		Operation:  operation,
		Reason:     reason,
	}); err != nil {
		m.log.Error("failed to persist security event", zap.Error(err))
	}
}
