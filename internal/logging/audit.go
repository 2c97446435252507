// Package logging provides audit logging that outputs Mangle-queryable facts.
// Audit logs are structured events that can be parsed into Mangle predicates
// for declarative querying and analysis (who was denied what, when, and why).
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// AUDIT EVENT TYPES - Maps to Mangle predicates
// =============================================================================

// AuditEventType defines the type of audit event (maps to Mangle predicate)
type AuditEventType string

const (
	// Worker lifecycle events -> worker_lifecycle/5
	AuditWorkerStart AuditEventType = "worker_start"
	AuditWorkerStop  AuditEventType = "worker_stop"
	AuditWorkerCrash AuditEventType = "worker_crash"
	AuditWorkerFault AuditEventType = "worker_fault"

	// Action gate events -> gate_decision/6
	AuditGateAllow AuditEventType = "gate_allow"
	AuditGateDeny  AuditEventType = "gate_deny"
	AuditGateVeto  AuditEventType = "gate_veto"

	// Trust store events -> trust_change/5
	AuditTrustRegister AuditEventType = "trust_register"
	AuditTrustDenied   AuditEventType = "trust_denied"

	// Enrollment events -> enroll_event/4
	AuditEnrollStart    AuditEventType = "enroll_start"
	AuditEnrollComplete AuditEventType = "enroll_complete"
	AuditEnrollError    AuditEventType = "enroll_error"

	// LLM API events -> llm_call/5
	AuditLLMRequest  AuditEventType = "llm_request"
	AuditLLMResponse AuditEventType = "llm_response"
	AuditLLMError    AuditEventType = "llm_error"

	// Bus events -> bus_event/4
	AuditBusOverflow AuditEventType = "bus_overflow"
	AuditBusDrop     AuditEventType = "bus_drop"

	// Safety interlock events -> interlock_event/3
	AuditInterlockTrip  AuditEventType = "interlock_trip"
	AuditInterlockClear AuditEventType = "interlock_clear"
)

// =============================================================================
// AUDIT EVENT STRUCTURE
// =============================================================================

// AuditEvent represents a structured audit log entry that can be parsed to Mangle.
// Format: predicate(timestamp, category, ...args)
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"` // Unix milliseconds
	EventType  AuditEventType         `json:"event"`
	Category   string                 `json:"cat"`
	RequestID  string                 `json:"req"`    // Correlation id
	Worker     string                 `json:"worker"` // Worker name if applicable
	Target     string                 `json:"target"` // Target of operation
	Action     string                 `json:"action"` // Action being performed
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms"`
	Error      string                 `json:"error"`
	Message    string                 `json:"msg"`
	Fields     map[string]interface{} `json:"fields"`
	MangleFact string                 `json:"mangle"` // Pre-formatted Mangle fact
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger handles structured audit logging with Mangle fact generation
type AuditLogger struct {
	requestID string
	category  Category
	worker    string
}

// InitAudit initializes the audit logging system
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil // Already initialized
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file

	header := fmt.Sprintf("# Audit log started at %s\n# Format: Mangle-queryable structured events\n", time.Now().Format(time.RFC3339))
	auditFile.WriteString(header)

	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditWithRequest creates an audit logger scoped to a correlation id
func AuditWithRequest(requestID string) *AuditLogger {
	return &AuditLogger{requestID: requestID}
}

// AuditWithWorker creates an audit logger scoped to a worker
func AuditWithWorker(worker string) *AuditLogger {
	return &AuditLogger{worker: worker}
}

// =============================================================================
// AUDIT LOGGING METHODS
// =============================================================================

// Log writes an audit event
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsDebugMode() || auditFile == nil {
		return
	}

	// Fill in defaults
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.RequestID == "" && a.requestID != "" {
		event.RequestID = a.requestID
	}
	if event.Worker == "" && a.worker != "" {
		event.Worker = a.worker
	}
	if event.Category == "" && a.category != "" {
		event.Category = string(a.category)
	}
	if event.Fields == nil {
		event.Fields = make(map[string]interface{})
	}

	event.MangleFact = generateMangleFact(event)

	auditMu.Lock()
	defer auditMu.Unlock()

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// generateMangleFact creates a Mangle-compatible fact string from an event
func generateMangleFact(e AuditEvent) string {
	switch e.EventType {
	case AuditWorkerStart, AuditWorkerStop, AuditWorkerCrash, AuditWorkerFault:
		return fmt.Sprintf("worker_lifecycle(%d, /%s, \"%s\", %v, \"%s\").",
			e.Timestamp, e.EventType, e.Worker, e.Success, escapeString(e.Error))

	case AuditGateAllow, AuditGateDeny, AuditGateVeto:
		risk := ""
		if r, ok := e.Fields["risk"].(string); ok {
			risk = r
		}
		return fmt.Sprintf("gate_decision(%d, /%s, \"%s\", /%s, \"%s\", \"%s\").",
			e.Timestamp, e.EventType, e.Target, risk, e.Action, escapeString(e.Message))

	case AuditTrustRegister, AuditTrustDenied:
		level := ""
		if l, ok := e.Fields["level"].(string); ok {
			level = l
		}
		return fmt.Sprintf("trust_change(%d, /%s, \"%s\", /%s, \"%s\").",
			e.Timestamp, e.EventType, e.Target, level, e.Action)

	case AuditEnrollStart, AuditEnrollComplete, AuditEnrollError:
		return fmt.Sprintf("enroll_event(%d, /%s, \"%s\", %v).",
			e.Timestamp, e.EventType, e.Target, e.Success)

	case AuditLLMRequest, AuditLLMResponse, AuditLLMError:
		return fmt.Sprintf("llm_call(%d, /%s, \"%s\", %v, %d).",
			e.Timestamp, e.EventType, e.Target, e.Success, e.DurationMs)

	case AuditBusOverflow, AuditBusDrop:
		return fmt.Sprintf("bus_event(%d, /%s, \"%s\", \"%s\").",
			e.Timestamp, e.EventType, e.Worker, e.Action)

	case AuditInterlockTrip, AuditInterlockClear:
		return fmt.Sprintf("interlock_event(%d, /%s, \"%s\").",
			e.Timestamp, e.EventType, e.Message)

	default:
		return fmt.Sprintf("audit_event(%d, /%s, \"%s\", \"%s\", %v).",
			e.Timestamp, e.EventType, e.Category, escapeString(e.Message), e.Success)
	}
}

// escapeString escapes quotes, backslashes and control characters so the
// value is safe inside a Mangle string constant.
func escapeString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/10)

	for _, c := range s {
		switch c {
		case '"':
			b.WriteString("\\\"")
		case '\\':
			b.WriteString("\\\\")
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}

// =============================================================================
// CONVENIENCE METHODS FOR COMMON EVENTS
// =============================================================================

// WorkerStart logs a worker start event
func (a *AuditLogger) WorkerStart(worker string) {
	a.Log(AuditEvent{
		EventType: AuditWorkerStart,
		Category:  string(CategoryWorkers),
		Worker:    worker,
		Success:   true,
		Message:   fmt.Sprintf("worker %s started", worker),
	})
}

// WorkerStop logs a worker stop event
func (a *AuditLogger) WorkerStop(worker string, forced bool) {
	a.Log(AuditEvent{
		EventType: AuditWorkerStop,
		Category:  string(CategoryWorkers),
		Worker:    worker,
		Success:   !forced,
		Message:   fmt.Sprintf("worker %s stopped (forced=%v)", worker, forced),
	})
}

// WorkerCrash logs an unhandled worker failure
func (a *AuditLogger) WorkerCrash(worker string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	a.Log(AuditEvent{
		EventType: AuditWorkerCrash,
		Category:  string(CategoryWorkers),
		Worker:    worker,
		Success:   false,
		Error:     msg,
	})
}

// GateDecision logs an action gate verdict
func (a *AuditLogger) GateDecision(identity, risk, verb string, allowed, vetoed bool, reason string) {
	eventType := AuditGateAllow
	if !allowed {
		eventType = AuditGateDeny
		if vetoed {
			eventType = AuditGateVeto
		}
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  string(CategoryGate),
		Target:    identity,
		Action:    verb,
		Success:   allowed,
		Message:   reason,
		Fields:    map[string]interface{}{"risk": risk},
	})
}

// TrustChange logs a registration or a rejected registration attempt
func (a *AuditLogger) TrustChange(identity, level, by string, success bool) {
	eventType := AuditTrustRegister
	if !success {
		eventType = AuditTrustDenied
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  string(CategoryTrust),
		Target:    identity,
		Action:    by,
		Success:   success,
		Fields:    map[string]interface{}{"level": level},
	})
}

// Enroll logs an enrollment lifecycle event
func (a *AuditLogger) Enroll(eventType AuditEventType, name string, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  string(CategoryVision),
		Target:    name,
		Success:   success,
		Error:     errMsg,
	})
}

// LLMCall logs a completed language model call
func (a *AuditLogger) LLMCall(model string, durationMs int64, success bool, errMsg string) {
	eventType := AuditLLMResponse
	if !success {
		eventType = AuditLLMError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Category:   string(CategoryLLM),
		Target:     model,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
	})
}

// BusOverflow logs a blocked publish that timed out on a full inbox
func (a *AuditLogger) BusOverflow(worker, kind string) {
	a.Log(AuditEvent{
		EventType: AuditBusOverflow,
		Category:  string(CategoryBus),
		Worker:    worker,
		Action:    kind,
		Success:   false,
	})
}

// BusDrop logs a drop-oldest eviction on a full inbox
func (a *AuditLogger) BusDrop(worker, kind string) {
	a.Log(AuditEvent{
		EventType: AuditBusDrop,
		Category:  string(CategoryBus),
		Worker:    worker,
		Action:    kind,
		Success:   true,
	})
}

// Interlock logs a safety interlock transition
func (a *AuditLogger) Interlock(tripped bool, meters float64) {
	eventType := AuditInterlockClear
	if tripped {
		eventType = AuditInterlockTrip
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  string(CategoryGate),
		Success:   !tripped,
		Message:   fmt.Sprintf("%.3f", meters),
	})
}
