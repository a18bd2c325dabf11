// Package events provides driven.EventPublisher adapters: a null sink and a
// structured-logging sink. Both satisfy the at-least-once, best-effort
// contract of §4.8 — neither can fail in a way the caller observes.
package events

import (
	"context"

	"github.com/prwatch/pr-monitor/internal/domain/model"
	"github.com/prwatch/pr-monitor/internal/domain/port/driven"
)

// NullPublisher discards every event. It is the default when no downstream
// consumer is configured (§4.8).
type NullPublisher struct{}

var _ driven.EventPublisher = NullPublisher{}

// NewNull builds a NullPublisher.
func NewNull() NullPublisher { return NullPublisher{} }

func (NullPublisher) NewPR(context.Context, model.Repository, model.PullRequest)        {}
func (NullPublisher) StateChange(context.Context, model.StateChange)                    {}
func (NullPublisher) FailedCheck(context.Context, model.Repository, int, model.CheckRun) {}
func (NullPublisher) DiscoveryComplete(context.Context, []model.DiscoveryResult)         {}
