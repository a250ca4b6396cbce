// Package dispatcher implements C9: the single entry point the transport
// layer calls for a data_agent invocation. It binds request-scoped
// context, resolves the destination, delegates to the controller, and
// records every telemetry row — grounded on the teacher's
// AlertService.SubmitAlert "validate -> resolve -> delegate -> persist"
// shape (pkg/services/alert_service.go), adapted from session creation to
// a synchronous request/response call since this gateway has no
// asynchronous worker pool (spec.md Non-goals exclude one).
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dataworks-io/sqlgate/pkg/apierr"
	"github.com/dataworks-io/sqlgate/pkg/controller"
	"github.com/dataworks-io/sqlgate/pkg/mapping"
	"github.com/dataworks-io/sqlgate/pkg/models"
	"github.com/dataworks-io/sqlgate/pkg/reqctx"
)

// MappingResolver is the narrow mapping.Store dependency the dispatcher needs.
type MappingResolver interface {
	Get(ctx context.Context, name string) (models.DBMapping, error)
}

// ControllerRunner is the narrow controller.Controller dependency.
type ControllerRunner interface {
	Run(ctx context.Context, requestID, userQuery string) controller.Result
}

// Masker redacts secrets from tool parameters before they are persisted.
type Masker interface {
	Mask(content string) string
}

// Recorder is the telemetry surface the dispatcher writes to.
type Recorder interface {
	TouchSession(ctx context.Context, sessionID, destination string, success bool)
	RecordExecution(ctx context.Context, e models.AgentExecutionLog)
	RecordToolCall(ctx context.Context, t models.ToolCallLog)
	RecordError(ctx context.Context, e models.ErrorLog)
}

// Dispatcher binds one data_agent invocation to a request id and
// destination connection, runs the controller, and records telemetry.
type Dispatcher struct {
	mappings MappingResolver
	ctrl     ControllerRunner
	recorder Recorder
	masker   Masker
}

// New constructs a Dispatcher.
func New(mappings MappingResolver, ctrl ControllerRunner, recorder Recorder, masker Masker) *Dispatcher {
	return &Dispatcher{mappings: mappings, ctrl: ctrl, recorder: recorder, masker: masker}
}

// tracer emits one span per data_agent invocation, grounded on the wider
// pack's near-universal use of go.opentelemetry.io/otel/trace for
// request-scoped spans (SPEC_FULL.md AMBIENT/DOMAIN STACK).
var tracer = otel.Tracer("github.com/dataworks-io/sqlgate/pkg/dispatcher")

// toolCallStatusProbe decodes just enough of a tool envelope to classify
// its outcome for tool_call_log.status.
type toolCallStatusProbe struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Handle runs one data_agent invocation end to end. It always returns a
// user-facing response string — an unknown destination produces an error
// answer rather than a Go error, matching spec.md scenario S3, and writes
// exactly one AgentExecutionLog regardless of outcome (spec.md §8 property
// 7).
func (d *Dispatcher) Handle(ctx context.Context, sessionID, destinationName, userQuery string) string {
	requestID := uuid.NewString()
	ctx = reqctx.WithRequestID(ctx, requestID)
	ctx = reqctx.WithSessionID(ctx, sessionID)

	ctx, span := tracer.Start(ctx, "dispatcher.Handle", trace.WithAttributes(
		attribute.String("destination", destinationName),
		attribute.String("request_id", requestID),
	))
	defer span.End()

	start := time.Now()

	mapped, err := d.mappings.Get(ctx, destinationName)
	if err != nil {
		span.RecordError(err)
		ae := apierr.From(err, apierr.CodeMissingDBConfig)
		response := fmt.Sprintf("I don't recognize the destination %q. Please check the ?db= parameter and try again.", destinationName)

		d.recorder.RecordError(ctx, models.ErrorLog{
			RequestID: requestID,
			SessionID: sessionID,
			Code:      int(ae.Code),
			CodeName:  ae.Code.Name(),
			Message:   ae.Message,
			Component: "dispatcher",
			Function:  "Handle",
		})
		d.recorder.RecordExecution(ctx, models.AgentExecutionLog{
			RequestID:      requestID,
			SessionID:      sessionID,
			DataSource:     destinationName,
			UserQuery:      userQuery,
			Status:         models.RequestStatusError,
			DurationMS:     time.Since(start).Milliseconds(),
			ResponseLength: len(response),
			CreatedAt:      time.Now(),
		})
		d.recorder.TouchSession(ctx, sessionID, destinationName, false)
		return response
	}

	ctx = reqctx.WithDestinationName(ctx, destinationName)
	ctx = reqctx.WithResolvedConn(ctx, mapping.Resolve(mapped))

	result := d.ctrl.Run(ctx, requestID, userQuery)

	var sqlCount, schemaCount, knowledgeCount int
	toolNames := make([]string, 0, len(result.ToolInvocations))
	hasData := false
	for _, inv := range result.ToolInvocations {
		toolNames = append(toolNames, inv.Name)
		switch models.ToolClass(inv.Class) {
		case models.ToolClassSQL:
			sqlCount++
			hasData = true
		case models.ToolClassSchema:
			schemaCount++
		case models.ToolClassKnowledge:
			knowledgeCount++
		}

		var probe toolCallStatusProbe
		status := "unknown"
		if json.Unmarshal([]byte(inv.Result), &probe) == nil {
			if probe.Success {
				status = "success"
			} else {
				status = "error"
			}
		}

		d.recorder.RecordToolCall(ctx, models.ToolCallLog{
			RequestID:     requestID,
			ToolName:      inv.Name,
			ToolClass:     models.ToolClass(inv.Class),
			Parameters:    d.masker.Mask(inv.Arguments),
			DurationMS:    inv.DurationMS,
			Status:        status,
			ResultSummary: d.masker.Mask(probe.Message),
			Destination:   destinationName,
			CreatedAt:     time.Now(),
		})
	}

	// A cancelled or timed-out context must not be reused for the telemetry
	// writes below — it would make them fail silently along with the
	// request. Detach onto context.Background() whenever the request
	// context is already done, matching spec.md §5's "attempt to emit an
	// AgentExecutionLog with status error and code CLIENT_CANCELLED" on
	// disconnect.
	status := models.RequestStatusSuccess
	recCtx := ctx
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		status = models.RequestStatusError
		recCtx = context.Background()
		d.recorder.RecordError(recCtx, models.ErrorLog{
			RequestID: requestID,
			SessionID: sessionID,
			Code:      int(apierr.CodeClientCancelled),
			CodeName:  apierr.CodeClientCancelled.Name(),
			Message:   "client disconnected before the request completed",
			Component: "dispatcher",
			Function:  "Handle",
		})
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		status = models.RequestStatusTimeout
		recCtx = context.Background()
	}

	d.recorder.RecordExecution(recCtx, models.AgentExecutionLog{
		RequestID:          requestID,
		SessionID:          sessionID,
		DataSource:         destinationName,
		UserQuery:          userQuery,
		Status:             status,
		DurationMS:         time.Since(start).Milliseconds(),
		PlanSteps:          result.PlanSteps,
		ExecutedSteps:      result.ExecutedSteps,
		Iterations:         result.Iterations,
		ToolsInvoked:       toolNames,
		SQLToolCount:       sqlCount,
		SchemaToolCount:    schemaCount,
		KnowledgeToolCount: knowledgeCount,
		ResponseLength:     len(result.Response),
		HasData:            hasData,
		CreatedAt:          time.Now(),
	})
	d.recorder.TouchSession(recCtx, sessionID, destinationName, status == models.RequestStatusSuccess)

	return result.Response
}
