// Package dispatch hands a stored session to whatever runs analyses: an
// in-process goroutine, the analysis Lambda, or a Step Functions execution.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/rs/zerolog/log"
)

// Environment variables selecting the remote dispatcher.
const (
	EnvStateMachineARN = "ANALYSIS_STATE_MACHINE_ARN"
	EnvAnalysisLambda  = "ANALYSIS_LAMBDA_ARN"
)

// EventTypeRun asks the analysis Lambda to run a session.
const EventTypeRun = "analysis-run"

// Event is the payload understood by the analysis Lambda.
type Event struct {
	Type         string   `json:"type"`
	SessionID    string   `json:"sessionId"`
	ExerciseType string   `json:"exerciseType,omitempty"`
	VideoKey     string   `json:"videoKey,omitempty"`
	FrameKeys    []string `json:"frameKeys,omitempty"`
	Model        string   `json:"model,omitempty"`
}

// Dispatcher starts a session run without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

// RunFunc executes one event to completion.
type RunFunc func(ctx context.Context, ev Event) error

// Local runs events in background goroutines of the current process.
type Local struct {
	run     RunFunc
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewLocal creates an in-process dispatcher. Each run gets its own deadline,
// detached from the request that dispatched it.
func NewLocal(run RunFunc, timeout time.Duration) *Local {
	return &Local{run: run, timeout: timeout}
}

// Dispatch implements Dispatcher.
func (l *Local) Dispatch(ctx context.Context, ev Event) error {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()
		if err := l.run(runCtx, ev); err != nil {
			log.Error().Err(err).Str("sessionId", ev.SessionID).Msg("Background analysis failed")
		}
	}()
	return nil
}

// Wait blocks until every dispatched run has returned.
func (l *Local) Wait() {
	l.wg.Wait()
}

// InvokeAPI is the subset of the Lambda client used by LambdaInvoker.
type InvokeAPI interface {
	Invoke(ctx context.Context, in *lambdasvc.InvokeInput, optFns ...func(*lambdasvc.Options)) (*lambdasvc.InvokeOutput, error)
}

// LambdaInvoker sends events to the analysis Lambda with InvocationType=Event,
// so the caller returns immediately.
type LambdaInvoker struct {
	client   InvokeAPI
	function string
}

// NewLambdaInvoker creates a dispatcher for the named function.
func NewLambdaInvoker(client InvokeAPI, function string) *LambdaInvoker {
	return &LambdaInvoker{client: client, function: function}
}

// Dispatch implements Dispatcher.
func (l *LambdaInvoker) Dispatch(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal analysis event: %w", err)
	}
	_, err = l.client.Invoke(ctx, &lambdasvc.InvokeInput{
		FunctionName:   aws.String(l.function),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		log.Error().Err(err).Str("sessionId", ev.SessionID).Msg("Failed to invoke analysis Lambda")
		return fmt.Errorf("invoke analysis lambda: %w", err)
	}
	log.Debug().Str("sessionId", ev.SessionID).Int("payloadSize", len(payload)).Msg("Analysis Lambda invoked asynchronously")
	return nil
}

// StartExecutionAPI is the subset of the Step Functions client used by StateMachine.
type StartExecutionAPI interface {
	StartExecution(ctx context.Context, in *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// StateMachine starts one Step Functions execution per run.
type StateMachine struct {
	client StartExecutionAPI
	arn    string
	now    func() time.Time
}

// NewStateMachine creates a dispatcher for the state machine arn.
func NewStateMachine(client StartExecutionAPI, arn string) *StateMachine {
	return &StateMachine{client: client, arn: arn, now: time.Now}
}

// Dispatch implements Dispatcher. Execution names carry the session ID and a
// timestamp so a retried session gets a fresh execution.
func (s *StateMachine) Dispatch(ctx context.Context, ev Event) error {
	input, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal analysis event: %w", err)
	}
	name := fmt.Sprintf("%s-%d", ev.SessionID, s.now().Unix())
	_, err = s.client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(s.arn),
		Input:           aws.String(string(input)),
		Name:            aws.String(name),
	})
	if err != nil {
		log.Error().Err(err).Str("sessionId", ev.SessionID).Msg("Failed to start analysis pipeline")
		return fmt.Errorf("start execution: %w", err)
	}
	log.Info().Str("sessionId", ev.SessionID).Str("execution", name).Msg("Analysis pipeline started via Step Functions")
	return nil
}

// FromEnv picks the remote dispatcher named by the environment: a state
// machine first, then a Lambda function. It returns nil when neither is set.
func FromEnv(cfg aws.Config) Dispatcher {
	if arn := os.Getenv(EnvStateMachineARN); arn != "" {
		return NewStateMachine(sfn.NewFromConfig(cfg), arn)
	}
	if fn := os.Getenv(EnvAnalysisLambda); fn != "" {
		return NewLambdaInvoker(lambdasvc.NewFromConfig(cfg), fn)
	}
	return nil
}
