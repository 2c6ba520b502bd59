package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with helpers for the authorization domain.
type Logger struct {
	*logrus.Logger
}

// New creates a new logger instance with JSON output at the given level.
func New(level string) *Logger {
	log := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)

	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	log.SetOutput(os.Stdout)

	return &Logger{Logger: log}
}

// WithComponent creates a new logger entry with a component name field.
func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.Logger.WithField("component", component)
}

// WithPrincipal creates a new logger entry with a principal id field.
func (l *Logger) WithPrincipal(principalID string) *logrus.Entry {
	return l.Logger.WithField("principal_id", principalID)
}

// Decision logs an authorization decision with structured fields.
func (l *Logger) Decision(principalID, resourceType, action string, allowed bool, policyID string, riskScore int) {
	entry := l.Logger.WithFields(logrus.Fields{
		"decision":      true,
		"principal_id":  principalID,
		"resource_type": resourceType,
		"action":        action,
		"allowed":       allowed,
		"policy_id":     policyID,
		"risk_score":    riskScore,
	})

	if allowed {
		entry.Info("Access allowed")
	} else {
		entry.Warn("Access denied")
	}
}

// Audit logs audit trail events with structured format.
func (l *Logger) Audit(principalID, action, resource string, success bool, details map[string]interface{}) {
	entry := l.Logger.WithFields(logrus.Fields{
		"audit":         true,
		"principal_id":  principalID,
		"action":        action,
		"resource":      resource,
		"success":       success,
		"details":       details,
	})

	if success {
		entry.Info("Audit event")
	} else {
		entry.Warn("Audit event failed")
	}
}

// Security logs security-relevant events such as review actions on
// pending permission suggestions.
func (l *Logger) Security(event string, principalID string, details map[string]interface{}) {
	l.Logger.WithFields(logrus.Fields{
		"security":     true,
		"event":        event,
		"principal_id": principalID,
		"details":      details,
	}).Warn("Security event")
}

// HTTPRequest logs HTTP request events.
func (l *Logger) HTTPRequest(method, path, userAgent, clientIP string, statusCode int, durationMS int64) {
	entry := l.Logger.WithFields(logrus.Fields{
		"http_request": true,
		"method":       method,
		"path":         path,
		"user_agent":   userAgent,
		"client_ip":    clientIP,
		"status_code":  statusCode,
		"duration_ms":  durationMS,
	})

	if statusCode >= 400 {
		entry.Warn("HTTP request completed with error")
	} else {
		entry.Info("HTTP request completed")
	}
}
