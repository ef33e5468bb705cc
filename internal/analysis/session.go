package analysis

import "fmt"

// Status values for an analysis record. The engine writes the first four;
// the review workflow owns the rest.
const (
	StatusPendingAI      = "PENDING_AI"
	StatusProcessing     = "PROCESSING"
	StatusAIAnalyzed     = "AI_ANALYZED"
	StatusError          = "ERROR"
	StatusPendingReview  = "PENDING_REVIEW"
	StatusApproved       = "APPROVED"
	StatusRejected       = "REJECTED"
	StatusRevisionNeeded = "REVISION_NEEDED"
)

var transitions = map[string][]string{
	StatusPendingAI:      {StatusProcessing},
	StatusProcessing:     {StatusAIAnalyzed, StatusError},
	StatusError:          {StatusProcessing},
	StatusAIAnalyzed:     {StatusPendingReview},
	StatusPendingReview:  {StatusApproved, StatusRejected, StatusRevisionNeeded},
	StatusRevisionNeeded: {StatusPendingReview},
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedFrom lists the statuses a record may move to status from.
func AllowedFrom(status string) []string {
	var out []string
	for _, from := range []string{
		StatusPendingAI, StatusProcessing, StatusAIAnalyzed, StatusError,
		StatusPendingReview, StatusApproved, StatusRejected, StatusRevisionNeeded,
	} {
		if CanTransition(from, status) {
			out = append(out, from)
		}
	}
	return out
}

// CanStartAnalysis reports whether an analysis run may begin from status.
// A failed run may be retried.
func CanStartAnalysis(status string) bool {
	return status == StatusPendingAI || status == StatusError
}

// Session is the top-level unit of work produced by the orchestrator and
// handed to the persistence/review collaborator.
type Session struct {
	ID              string                `json:"sessionId" dynamodbav:"-"`
	MovementPattern string                `json:"movementPattern" dynamodbav:"movementPattern"`
	ExerciseType    string                `json:"exerciseType" dynamodbav:"exerciseType"`
	VideoPath       string                `json:"videoPath,omitempty" dynamodbav:"videoPath,omitempty"`
	Status          string                `json:"status" dynamodbav:"status"`
	Frames          []FrameAnalysisResult `json:"frames" dynamodbav:"frames"`
	CriticalPoints  []CriticalPoint       `json:"criticalPoints" dynamodbav:"criticalPoints"`
	OverallScore    float64               `json:"overallScore" dynamodbav:"overallScore"`
	PipelineAScore  float64               `json:"pipelineAScore" dynamodbav:"pipelineAScore"`
	PipelineBScore  float64               `json:"pipelineBScore,omitempty" dynamodbav:"pipelineBScore,omitempty"`
	MergedScore     float64               `json:"mergedScore" dynamodbav:"mergedScore"`
	Classification  Classification        `json:"classification" dynamodbav:"classification"`
	PipelinesUsed   PipelinesUsed         `json:"pipelinesUsed" dynamodbav:"pipelinesUsed"`
	DegradedReason  string                `json:"degradedReason,omitempty" dynamodbav:"degradedReason,omitempty"`
	ReferencesUsed  []string              `json:"referencesUsed,omitempty" dynamodbav:"referencesUsed,omitempty"`
	Quantitative    *QuantitativeResult   `json:"quantitative,omitempty" dynamodbav:"quantitative,omitempty"`
	Report          *Report               `json:"report,omitempty" dynamodbav:"report,omitempty"`
	Error           *SessionError         `json:"error,omitempty" dynamodbav:"error,omitempty"`
	CreatedAt       int64                 `json:"createdAt" dynamodbav:"createdAt"`
	CompletedAt     int64                 `json:"completedAt,omitempty" dynamodbav:"completedAt,omitempty"`
}

// Summary is a one-line description used in logs and CLI output.
func (s *Session) Summary() string {
	return fmt.Sprintf("%s: %s score=%.1f (A=%.1f merged=%.1f) frames=%d quantitative=%t",
		s.ID, s.Classification, s.OverallScore, s.PipelineAScore, s.MergedScore,
		len(s.Frames), s.PipelinesUsed.Quantitative)
}

// ClassificationLevel is the outcome of one rule-based criterion.
type ClassificationLevel string

const (
	LevelExcellent  ClassificationLevel = "excellent"
	LevelGood       ClassificationLevel = "good"
	LevelAcceptable ClassificationLevel = "acceptable"
	LevelWarning    ClassificationLevel = "warning"
	LevelDanger     ClassificationLevel = "danger"
)

// CriterionResult is one criterion classified from landmark metrics.
type CriterionResult struct {
	Criterion      string              `json:"criterion" dynamodbav:"criterion"`
	Label          string              `json:"label" dynamodbav:"label"`
	Metric         string              `json:"metric" dynamodbav:"metric"`
	Value          float64             `json:"value" dynamodbav:"value"`
	Unit           string              `json:"unit,omitempty" dynamodbav:"unit,omitempty"`
	Level          ClassificationLevel `json:"classification" dynamodbav:"classification"`
	SafetyCritical bool                `json:"isSafetyCritical" dynamodbav:"isSafetyCritical"`
	Topics         []string            `json:"ragTopics,omitempty" dynamodbav:"ragTopics,omitempty"`
	Note           string              `json:"note,omitempty" dynamodbav:"note,omitempty"`
}

// QuantitativeResult is the output of the landmark pipeline.
type QuantitativeResult struct {
	Category          string             `json:"category" dynamodbav:"category"`
	Frames            []MeasuredFrame    `json:"frames" dynamodbav:"frames"`
	Metrics           map[string]float64 `json:"metrics" dynamodbav:"metrics"`
	Classifications   []CriterionResult  `json:"classifications" dynamodbav:"classifications"`
	Score             float64            `json:"score" dynamodbav:"score"`
	HasDanger         bool               `json:"hasDangerCriteria" dynamodbav:"hasDangerCriteria"`
	HasSafetyWarning  bool               `json:"hasWarningSafetyCriteria" dynamodbav:"hasWarningSafetyCriteria"`
	ContextSnippets   int                `json:"contextSnippets" dynamodbav:"contextSnippets"`
	ProcessingTimeMs  int64              `json:"processingTimeMs,omitempty" dynamodbav:"processingTimeMs,omitempty"`
	NarrativeDegraded string             `json:"narrativeDegraded,omitempty" dynamodbav:"narrativeDegraded,omitempty"`
}

// Topics returns the de-duplicated retrieval topics of every criterion that
// is not at least acceptable, falling back to all topics when none flagged.
func (q *QuantitativeResult) Topics() []string {
	seen := make(map[string]bool)
	var flagged, all []string
	for _, c := range q.Classifications {
		for _, t := range c.Topics {
			if seen[t] {
				continue
			}
			seen[t] = true
			all = append(all, t)
			if c.Level == LevelWarning || c.Level == LevelDanger {
				flagged = append(flagged, t)
			}
		}
	}
	if len(flagged) > 0 {
		return flagged
	}
	return all
}

// Problem is one issue described by the narrative report.
type Problem struct {
	Name          string `json:"nome" dynamodbav:"name"`
	Severity      string `json:"severidade" dynamodbav:"severity"`
	Description   string `json:"descricao" dynamodbav:"description"`
	ProbableCause string `json:"causa_provavel" dynamodbav:"probableCause"`
	Rationale     string `json:"fundamentacao" dynamodbav:"rationale"`
}

// Recommendation is one corrective suggestion in the narrative report.
type Recommendation struct {
	Priority           int    `json:"prioridade" dynamodbav:"priority"`
	Category           string `json:"categoria" dynamodbav:"category"`
	Description        string `json:"descricao" dynamodbav:"description"`
	CorrectiveExercise string `json:"exercicio_corretivo" dynamodbav:"correctiveExercise"`
}

// Report is the structured narrative produced for reviewers.
type Report struct {
	ExecutiveSummary string           `json:"resumo_executivo" dynamodbav:"executiveSummary"`
	Problems         []Problem        `json:"problemas_identificados" dynamodbav:"problems"`
	Positives        []string         `json:"pontos_positivos" dynamodbav:"positives"`
	Recommendations  []Recommendation `json:"recomendacoes" dynamodbav:"recommendations"`
	Score            float64          `json:"score_geral" dynamodbav:"score"`
	Classification   string           `json:"classificacao" dynamodbav:"classification"`
	NextSteps        []string         `json:"proximos_passos" dynamodbav:"nextSteps"`
	Generated        string           `json:"generated" dynamodbav:"generated"`
}
