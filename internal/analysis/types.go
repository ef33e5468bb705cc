// Package analysis holds the data model shared by the comparison engine, the
// pipeline orchestrator, score fusion and the analysis store.
package analysis

import (
	"fmt"
	"time"
)

// Channel identifies one of the four joint-angle channels tracked per frame.
type Channel string

const (
	KneeLeft  Channel = "knee_left"
	KneeRight Channel = "knee_right"
	Hip       Channel = "hip"
	Trunk     Channel = "trunk"
)

// Channels lists the angle channels in their canonical order.
var Channels = []Channel{KneeLeft, KneeRight, Hip, Trunk}

// Angles holds one reading per channel, in degrees. A zero reading means the
// angle is unknown, not that the joint is at 0°.
type Angles struct {
	KneeLeft  float64 `json:"kneeLeft" dynamodbav:"kneeLeft"`
	KneeRight float64 `json:"kneeRight" dynamodbav:"kneeRight"`
	Hip       float64 `json:"hip" dynamodbav:"hip"`
	Trunk     float64 `json:"trunk" dynamodbav:"trunk"`
}

// Get returns the reading for a channel.
func (a Angles) Get(c Channel) float64 {
	switch c {
	case KneeLeft:
		return a.KneeLeft
	case KneeRight:
		return a.KneeRight
	case Hip:
		return a.Hip
	case Trunk:
		return a.Trunk
	}
	return 0
}

// IsZero reports whether every channel is unknown.
func (a Angles) IsZero() bool {
	return a.KneeLeft == 0 && a.KneeRight == 0 && a.Hip == 0 && a.Trunk == 0
}

// PatternCategory separates the gold standard from known deviations.
type PatternCategory string

const (
	CategoryGold      PatternCategory = "gold"
	CategoryDeviation PatternCategory = "deviation"
)

// DeviationType names a known faulty movement pattern.
type DeviationType string

const (
	KneeValgus           DeviationType = "knee_valgus"
	TrunkForwardLean     DeviationType = "trunk_forward_lean"
	LumbarHyperextension DeviationType = "lumbar_hyperextension"
)

// DeviationTypes lists the deviation types in display order.
var DeviationTypes = []DeviationType{KneeValgus, TrunkForwardLean, LumbarHyperextension}

// DisplayName returns the reviewer-facing name of the deviation.
func (d DeviationType) DisplayName() string {
	switch d {
	case KneeValgus:
		return "Valgo Dinâmico de Joelho"
	case TrunkForwardLean:
		return "Anteriorização Excessiva do Tronco"
	case LumbarHyperextension:
		return "Hiperextensão Lombar (Butt Wink)"
	}
	return string(d)
}

// ReferencePattern is a curated movement pattern with per-frame expected angles.
// Patterns are immutable once loaded.
type ReferencePattern struct {
	ID             string                `json:"id" yaml:"id"`
	Name           string                `json:"name" yaml:"name"`
	Category       PatternCategory       `json:"category" yaml:"category"`
	DeviationType  DeviationType         `json:"deviationType,omitempty" yaml:"deviation_type,omitempty"`
	Description    string                `json:"description,omitempty" yaml:"description,omitempty"`
	FrameImages    []string              `json:"frameImages" yaml:"frame_images"`
	ExpectedAngles map[Channel][]float64 `json:"expectedAngles" yaml:"expected_angles"`
}

// Validate checks that every channel has exactly one expected value per frame image.
func (p *ReferencePattern) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("pattern has no id")
	}
	if len(p.FrameImages) == 0 {
		return fmt.Errorf("pattern %s: no frame images", p.ID)
	}
	if p.Category == CategoryDeviation && p.DeviationType == "" {
		return fmt.Errorf("pattern %s: deviation pattern without deviation type", p.ID)
	}
	for _, c := range Channels {
		if got := len(p.ExpectedAngles[c]); got != len(p.FrameImages) {
			return fmt.Errorf("pattern %s: channel %s has %d values, want %d", p.ID, c, got, len(p.FrameImages))
		}
	}
	return nil
}

// Expected returns the expected angles for a 1-based frame index. Channels
// out of range come back as 0.
func (p *ReferencePattern) Expected(frameIndex int) Angles {
	i := frameIndex - 1
	at := func(c Channel) float64 {
		vals := p.ExpectedAngles[c]
		if i < 0 || i >= len(vals) {
			return 0
		}
		return vals[i]
	}
	return Angles{
		KneeLeft:  at(KneeLeft),
		KneeRight: at(KneeRight),
		Hip:       at(Hip),
		Trunk:     at(Trunk),
	}
}

// Frames returns the number of reference frames in the pattern.
func (p *ReferencePattern) Frames() int {
	return len(p.FrameImages)
}

// Phase is the portion of the repetition a frame falls into.
type Phase string

const (
	PhaseEccentric  Phase = "eccentric"
	PhaseBottom     Phase = "bottom"
	PhaseConcentric Phase = "concentric"
)

// PhaseFor buckets a 1-based frame index into thirds of the repetition.
func PhaseFor(frameIndex, totalFrames int) Phase {
	if totalFrames <= 0 {
		return PhaseBottom
	}
	pos := float64(frameIndex) / float64(totalFrames)
	switch {
	case pos <= 1.0/3.0:
		return PhaseEccentric
	case pos <= 2.0/3.0:
		return PhaseBottom
	default:
		return PhaseConcentric
	}
}

// MeasuredFrame is one sampled frame of the user's video with its angle readings.
type MeasuredFrame struct {
	FrameIndex          int     `json:"frameIndex" dynamodbav:"frameIndex"`
	TimestampSeconds    float64 `json:"timestampSeconds" dynamodbav:"timestampSeconds"`
	ImagePath           string  `json:"imagePath" dynamodbav:"imagePath"`
	Phase               Phase   `json:"phase,omitempty" dynamodbav:"phase,omitempty"`
	Angles              Angles  `json:"measuredAngles" dynamodbav:"measuredAngles"`
	ValgusDetected      bool    `json:"valgusDetected" dynamodbav:"valgusDetected"`
	ForwardLeanDetected bool    `json:"forwardLeanDetected" dynamodbav:"forwardLeanDetected"`
}

// TimestampLabel formats the frame timestamp for reports, e.g. "1.5s".
func (f MeasuredFrame) TimestampLabel() string {
	return fmt.Sprintf("%.1fs", f.TimestampSeconds)
}

// Method tags record which measurement path produced a frame result.
const (
	MethodComparative   = "comparative_with_references"
	MethodStandalone    = "standalone_vision"
	MethodErrorFallback = "error_fallback"
)

// FrameAnalysisResult is the measurement and comparison outcome for one frame.
type FrameAnalysisResult struct {
	Frame                  MeasuredFrame         `json:"frame" dynamodbav:"frame"`
	SimilarityToGold       int                   `json:"similarityToGold" dynamodbav:"similarityToGold"`
	SimilarityToDeviations map[DeviationType]int `json:"similarityToDeviations" dynamodbav:"similarityToDeviations"`
	TrajectorySimilarity   map[string]int        `json:"trajectorySimilarity,omitempty" dynamodbav:"trajectorySimilarity,omitempty"`
	DeviationsObserved     []string              `json:"deviationsObserved" dynamodbav:"deviationsObserved"`
	PositiveObservations   []string              `json:"positiveObservations" dynamodbav:"positiveObservations"`
	RawScore               float64               `json:"rawScore" dynamodbav:"rawScore"`
	AdjustedScore          float64               `json:"adjustedScore" dynamodbav:"adjustedScore"`
	Method                 string                `json:"method" dynamodbav:"method"`
	Error                  string                `json:"error,omitempty" dynamodbav:"error,omitempty"`
}

// Severity ranks how often a deviation recurs across a session.
type Severity string

const (
	SeverityLeve     Severity = "LEVE"
	SeverityModerada Severity = "MODERADA"
	SeverityCritica  Severity = "CRITICA"
)

// Rank orders severities LEVE < MODERADA < CRITICA.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritica:
		return 2
	case SeverityModerada:
		return 1
	}
	return 0
}

// CriticalPoint is a deviation aggregated over every frame of a session.
type CriticalPoint struct {
	DeviationType  DeviationType `json:"deviationType" dynamodbav:"deviationType"`
	DisplayName    string        `json:"displayName" dynamodbav:"displayName"`
	FramesAffected int           `json:"framesAffected" dynamodbav:"framesAffected"`
	TotalFrames    int           `json:"totalFrames" dynamodbav:"totalFrames"`
	Frequency      float64       `json:"frequency" dynamodbav:"frequency"`
	Severity       Severity      `json:"severity" dynamodbav:"severity"`
}

// Classification is the session-level quality label.
type Classification string

const (
	Excelente         Classification = "EXCELENTE"
	Bom               Classification = "BOM"
	Regular           Classification = "REGULAR"
	NecessitaCorrecao Classification = "NECESSITA_CORREÇÃO"
)

// PipelinesUsed records which pipelines contributed to a session result.
type PipelinesUsed struct {
	Qualitative  bool `json:"qualitative" dynamodbav:"qualitative"`
	Quantitative bool `json:"quantitative" dynamodbav:"quantitative"`
}

// SessionError is the payload written alongside an ERROR status.
type SessionError struct {
	Message   string `json:"error" dynamodbav:"error"`
	Timestamp string `json:"timestamp" dynamodbav:"timestamp"`
}

// NewSessionError stamps an error message with the current UTC time.
func NewSessionError(msg string) *SessionError {
	return &SessionError{Message: msg, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

// FrameInput is one sampled frame handed to the engine.
type FrameInput struct {
	Index            int     `json:"index"`
	Path             string  `json:"path"`
	TimestampSeconds float64 `json:"timestampSeconds"`
}
