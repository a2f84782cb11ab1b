package services

import (
	"sync"
	"time"

	"github.com/imyashkale/hera/internal/logger"
	"github.com/imyashkale/hera/internal/models"
)

const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"

	LogSizeLimit = 64 * 1024 // 64KB per deployment record
)

// ProvisionLog collects the step log of one deployment. Entries are mirrored
// to the service logger.
type ProvisionLog struct {
	deploymentID string
	logs         []models.ProvisionLogEntry
	mu           sync.Mutex
	now          func() time.Time
}

// NewProvisionLog creates a log that continues from existing entries
func NewProvisionLog(deploymentID string, existing []models.ProvisionLogEntry, now func() time.Time) *ProvisionLog {
	if now == nil {
		now = time.Now
	}
	logs := make([]models.ProvisionLogEntry, len(existing))
	copy(logs, existing)
	return &ProvisionLog{deploymentID: deploymentID, logs: logs, now: now}
}

// LogInfo logs an info level message
func (pl *ProvisionLog) LogInfo(step, message string) {
	pl.log(step, LevelInfo, message)
}

// LogWarning logs a warning level message
func (pl *ProvisionLog) LogWarning(step, message string) {
	pl.log(step, LevelWarning, message)
}

// LogError logs an error level message
func (pl *ProvisionLog) LogError(step, message string) {
	pl.log(step, LevelError, message)
}

func (pl *ProvisionLog) log(step, level, message string) {
	pl.mu.Lock()
	pl.logs = append(pl.logs, models.ProvisionLogEntry{
		Timestamp: pl.now().UTC(),
		Step:      step,
		Level:     level,
		Message:   message,
	})
	pl.mu.Unlock()

	entry := logger.ForDeployment(pl.deploymentID).WithField("step", step)
	switch level {
	case LevelError:
		entry.Error(message)
	case LevelWarning:
		entry.Warn(message)
	default:
		entry.Info(message)
	}
}

// GetLogs returns all logged entries
func (pl *ProvisionLog) GetLogs() []models.ProvisionLogEntry {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	logsCopy := make([]models.ProvisionLogEntry, len(pl.logs))
	copy(logsCopy, pl.logs)
	return logsCopy
}

// GetLogsWithSizeLimit returns the newest entries that fit in LogSizeLimit,
// preceded by a truncation notice when older entries were dropped.
func (pl *ProvisionLog) GetLogsWithSizeLimit() []models.ProvisionLogEntry {
	logs := pl.GetLogs()

	// Rough size estimation: timestamp (25) + step (50) + level (10) + message (len) + overhead (50)
	var totalSize int
	start := len(logs)
	for start > 0 {
		entrySize := 135 + len(logs[start-1].Message)
		if totalSize+entrySize > LogSizeLimit {
			break
		}
		totalSize += entrySize
		start--
	}
	if start == 0 {
		return logs
	}

	result := make([]models.ProvisionLogEntry, 0, len(logs)-start+1)
	result = append(result, models.ProvisionLogEntry{
		Timestamp: logs[start].Timestamp,
		Step:      "system",
		Level:     LevelWarning,
		Message:   "Log output exceeded size limit. Older logs truncated.",
	})
	return append(result, logs[start:]...)
}
