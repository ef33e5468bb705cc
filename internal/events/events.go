// Package events publishes session lifecycle events to EventBridge so review
// tooling can react to finished analyses.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/biomech-analyzer/internal/analysis"
)

// EnvEventBus names the bus events are sent to. Unset disables publishing.
const EnvEventBus = "EVENT_BUS_NAME"

// Source and detail types of published events.
const (
	Source                 = "biomech-analyzer"
	DetailAnalysisComplete = "AnalysisCompleted"
	DetailAnalysisFailed   = "AnalysisFailed"
)

// PutEventsAPI is the subset of the EventBridge client used here.
type PutEventsAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// AnalysisEvent is the detail payload of both event types.
type AnalysisEvent struct {
	SessionID      string                  `json:"sessionId"`
	ExerciseType   string                  `json:"exerciseType"`
	Status         string                  `json:"status"`
	Classification analysis.Classification `json:"classification,omitempty"`
	MergedScore    float64                 `json:"mergedScore,omitempty"`
	CriticalPoints int                     `json:"criticalPoints"`
	Quantitative   bool                    `json:"quantitative"`
	DegradedReason string                  `json:"degradedReason,omitempty"`
	Error          string                  `json:"error,omitempty"`
}

// Publisher sends analysis events to one bus.
type Publisher struct {
	client PutEventsAPI
	bus    string
}

// NewPublisher creates a publisher. An empty bus means the default bus.
func NewPublisher(client PutEventsAPI, bus string) *Publisher {
	return &Publisher{client: client, bus: bus}
}

// Completed publishes a finished session.
func (p *Publisher) Completed(ctx context.Context, s *analysis.Session) error {
	return p.put(ctx, DetailAnalysisComplete, AnalysisEvent{
		SessionID:      s.ID,
		ExerciseType:   s.ExerciseType,
		Status:         s.Status,
		Classification: s.Classification,
		MergedScore:    s.MergedScore,
		CriticalPoints: len(s.CriticalPoints),
		Quantitative:   s.PipelinesUsed.Quantitative,
		DegradedReason: s.DegradedReason,
	})
}

// Failed publishes a run that ended in ERROR.
func (p *Publisher) Failed(ctx context.Context, sessionID, exerciseType string, cause error) error {
	return p.put(ctx, DetailAnalysisFailed, AnalysisEvent{
		SessionID:    sessionID,
		ExerciseType: exerciseType,
		Status:       analysis.StatusError,
		Error:        cause.Error(),
	})
}

func (p *Publisher) put(ctx context.Context, detailType string, ev AnalysisEvent) error {
	detail, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", detailType, err)
	}

	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(Source),
		DetailType: aws.String(detailType),
		Detail:     aws.String(string(detail)),
	}
	if p.bus != "" {
		entry.EventBusName = aws.String(p.bus)
	}

	result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		log.Error().Err(err).Str("sessionId", ev.SessionID).Str("detailType", detailType).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, e := range result.Entries {
			if e.ErrorCode != nil || e.ErrorMessage != nil {
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
			}
		}
	}

	log.Debug().Str("sessionId", ev.SessionID).Str("detailType", detailType).Msg("Analysis event emitted to EventBridge")
	return nil
}
