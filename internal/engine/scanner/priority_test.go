package scanner_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/prwatch/pr-monitor/internal/domain/model"
	"github.com/prwatch/pr-monitor/internal/engine/scanner"
)

func TestResolvePriority_Override(t *testing.T) {
	repo := model.Repository{ID: uuid.New(), ConfigOverride: map[string]string{"discovery_priority": "critical"}}
	assert.Equal(t, model.PriorityCritical, scanner.ResolvePriority(repo, time.Now()))
}

func TestResolvePriority_FailureCountEscalates(t *testing.T) {
	now := time.Now()
	assert.Equal(t, model.PriorityCritical, scanner.ResolvePriority(model.Repository{FailureCount: 4, LastPolledAt: now}, now))
	assert.Equal(t, model.PriorityHigh, scanner.ResolvePriority(model.Repository{FailureCount: 2, LastPolledAt: now}, now))
}

func TestResolvePriority_NeverPolled(t *testing.T) {
	assert.Equal(t, model.PriorityHigh, scanner.ResolvePriority(model.Repository{}, time.Now()))
}

func TestResolvePriority_StaleEscalatesByElapsedTime(t *testing.T) {
	now := time.Now()
	assert.Equal(t, model.PriorityHigh, scanner.ResolvePriority(model.Repository{LastPolledAt: now.Add(-2 * time.Hour)}, now))
	assert.Equal(t, model.PriorityNormal, scanner.ResolvePriority(model.Repository{LastPolledAt: now.Add(-45 * time.Minute)}, now))
}

func TestResolvePriority_FallsBackToPollingInterval(t *testing.T) {
	now := time.Now()
	recent := now.Add(-time.Minute)
	assert.Equal(t, model.PriorityHigh, scanner.ResolvePriority(model.Repository{LastPolledAt: recent, PollingInterval: 5 * time.Minute}, now))
	assert.Equal(t, model.PriorityNormal, scanner.ResolvePriority(model.Repository{LastPolledAt: recent, PollingInterval: 15 * time.Minute}, now))
	assert.Equal(t, model.PriorityLow, scanner.ResolvePriority(model.Repository{LastPolledAt: recent, PollingInterval: time.Hour}, now))
}

func TestResolvePriority_UnknownOverrideIgnored(t *testing.T) {
	now := time.Now()
	repo := model.Repository{LastPolledAt: now.Add(-time.Minute), PollingInterval: time.Hour, ConfigOverride: map[string]string{"discovery_priority": "urgent"}}
	assert.Equal(t, model.PriorityLow, scanner.ResolvePriority(repo, now))
}
