// Package alert fans job failures out to notification channels
package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"converter_strategy/internal/core"
)

type AlertLevel string

const (
	Info     AlertLevel = "INFO"
	Warning  AlertLevel = "WARNING"
	Error    AlertLevel = "ERROR"
	Critical AlertLevel = "CRITICAL"
)

type AlertPayload struct {
	Level     AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

type AlertChannel interface {
	Send(ctx context.Context, alert AlertPayload) error
	Name() string
}

// AlertManager delivers each alert to every channel in parallel
type AlertManager struct {
	channels    []AlertChannel
	sendTimeout time.Duration
	logger      core.ILogger
	mu          sync.RWMutex
}

func NewAlertManager(logger core.ILogger) *AlertManager {
	return &AlertManager{
		sendTimeout: 10 * time.Second,
		logger:      logger.WithField("component", "alert_manager"),
	}
}

func (am *AlertManager) AddChannel(ch AlertChannel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.channels = append(am.channels, ch)
	am.logger.Info("Added alert channel", "name", ch.Name())
}

// Channels returns the number of registered channels
func (am *AlertManager) Channels() int {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return len(am.channels)
}

// Alert blocks until every channel has accepted or rejected the alert.
// Delivery failures are logged and returned joined.
func (am *AlertManager) Alert(ctx context.Context, title, message string, level AlertLevel, fields map[string]string) error {
	payload := AlertPayload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	am.mu.RLock()
	channels := append([]AlertChannel(nil), am.channels...)
	am.mu.RUnlock()
	if len(channels) == 0 {
		return nil
	}
	am.logger.Info("Triggering alert", "title", title, "level", level)

	errs := make([]error, len(channels))
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, c AlertChannel) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, am.sendTimeout)
			defer cancel()

			if err := c.Send(sendCtx, payload); err != nil {
				am.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
				errs[i] = fmt.Errorf("%s: %w", c.Name(), err)
			}
		}(i, ch)
	}
	wg.Wait()
	return errors.Join(errs...)
}
