package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const maxClientLogBatch = 100

// ClientLogEntry is one log line forwarded by a browser front end
type ClientLogEntry struct {
	Level   string         `json:"level"`
	Message string         `json:"message" binding:"required"`
	Context map[string]any `json:"context"`
	At      string         `json:"at"`
}

// ClientLogBatch is the body of POST /logs
type ClientLogBatch struct {
	Entries []ClientLogEntry `json:"entries" binding:"required,min=1,dive"`
}

// IngestLogs records front-end log lines in the server log
func (h *Handlers) IngestLogs(c *gin.Context) {
	var batch ClientLogBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid log batch"})
		return
	}
	if len(batch.Entries) > maxClientLogBatch {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "too many log entries"})
		return
	}

	logger := h.logger.Named("client")
	for _, entry := range batch.Entries {
		fields := make([]zap.Field, 0, len(entry.Context)+1)
		if entry.At != "" {
			fields = append(fields, zap.String("client_time", entry.At))
		}
		for key, value := range entry.Context {
			fields = append(fields, zap.Any(key, value))
		}
		if ce := logger.Check(clientLevel(entry.Level), entry.Message); ce != nil {
			ce.Write(fields...)
		}
	}

	c.JSON(http.StatusOK, gin.H{"accepted": len(batch.Entries)})
}

// clientLevel maps a front-end level name onto zap, never above error
func clientLevel(name string) zapcore.Level {
	switch strings.ToLower(name) {
	case "debug", "verbose", "trace":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error", "fatal", "panic":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
