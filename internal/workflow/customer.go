package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/callagent/internal/llm"
	"github.com/lexiqai/callagent/internal/session"
)

// LLMToolCaller is the subset of internal/llm.Client the customer flow
// needs: a tool-bound streaming completion.
type LLMToolCaller interface {
	StreamChat(ctx context.Context, conversationID, systemPrompt, userText string, tools []llm.Tool) (<-chan *llm.Response, error)
}

var customerTools = []llm.Tool{
	{
		Name:        "select_wait_option",
		Description: "Call when the customer agrees to wait and keep the original appointment at its new, delayed time.",
		ParametersSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "select_alternative_option",
		Description: "Call when the customer prefers the alternative later time slot instead of waiting.",
		ParametersSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "decline_both_options",
		Description: "Call when the customer declines both the wait option and the alternative option.",
		ParametersSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
}

// CustomerFlow implements the two-node customer-side graph: generateResponse
// (an LLM turn, possibly emitting one of the three tools above) and
// executeTools (applying whichever tool fired) (§4.J).
type CustomerFlow struct {
	llm      LLMToolCaller
	calendar CalendarStore
	sms      SMSSender
	audit    AuditLog
	logger   zerolog.Logger
}

func NewCustomerFlow(llmClient LLMToolCaller, calendar CalendarStore, sms SMSSender, audit AuditLog, logger zerolog.Logger) *CustomerFlow {
	return &CustomerFlow{llm: llmClient, calendar: calendar, sms: sms, audit: audit, logger: logger}
}

func systemPrompt(d *session.DelayData) string {
	return fmt.Sprintf(
		"You are calling %s about their appointment %q, which is now running %d minutes behind. "+
			"Offer two options: wait until %s, or move to an alternative slot at %s. "+
			"Call select_wait_option, select_alternative_option, or decline_both_options as soon as the customer's preference is clear. "+
			"After the tool result comes back, thank them and end with exactly the phrase \"Have a great day!\"",
		d.CustomerName, d.AppointmentSummary, d.DelayMinutes, d.WaitOptionText, d.AlternativeOptionText,
	)
}

// generateResponse runs one LLM turn, surfacing any tool call the model asked for.
func (f *CustomerFlow) generateResponse(ctx context.Context, conversationID, prompt, userText string) (reply string, toolCall *llm.ToolCall, err error) {
	respCh, err := f.llm.StreamChat(ctx, conversationID, prompt, userText, customerTools)
	if err != nil {
		return "", nil, err
	}

	var text strings.Builder
	for r := range respCh {
		if r.TextChunk != "" {
			text.WriteString(r.TextChunk)
		}
		if r.ToolCall != nil {
			toolCall = r.ToolCall
		}
		if r.Error != nil {
			return text.String(), toolCall, fmt.Errorf("customer flow: llm error: %s", r.Error.Message)
		}
	}
	return text.String(), toolCall, nil
}

// executeTool applies the customer's choice: updates the calendar (unless
// declined), notifies the teammate by SMS, and audits the outcome. Side
// effect failures are logged, never fatal to the call (§4.F failure
// semantics).
func (f *CustomerFlow) executeTool(ctx context.Context, tc *llm.ToolCall, d *session.DelayData) CustomerResponseEntry {
	entry := CustomerResponseEntry{AppointmentID: d.AppointmentID, Status: "pending"}

	var choiceLabel, optionText, optionISO string
	switch tc.ToolName {
	case "select_wait_option":
		choiceLabel, optionText, optionISO = "WAIT", d.WaitOptionText, d.WaitOptionISO
	case "select_alternative_option":
		choiceLabel, optionText, optionISO = "ALTERNATIVE", d.AlternativeOptionText, d.AlternativeOptionISO
	case "decline_both_options":
		choiceLabel = "DECLINED"
	default:
		f.logger.Warn().Str("tool", tc.ToolName).Msg("customer flow: unknown tool call")
		entry.Response, entry.Status = "UNKNOWN", "failed"
		return entry
	}
	entry.Response = choiceLabel

	if choiceLabel != "DECLINED" {
		newStart, parseErr := time.Parse(time.RFC3339, optionISO)
		if parseErr != nil {
			f.logger.Error().Err(parseErr).Msg("customer flow: bad option timestamp")
			entry.Status = "failed"
			_ = f.audit.LogCustomerResponse(ctx, entry)
			return entry
		}
		dur := d.OriginalEnd.Sub(d.OriginalStart)
		if err := f.calendar.UpdateTime(ctx, d.AppointmentID, newStart, newStart.Add(dur)); err != nil {
			f.logger.Error().Err(err).Str("appointment_id", d.AppointmentID).Msg("customer flow: calendar update failed")
			entry.Status = "calendar_failed"
		} else {
			entry.NewTime = newStart
			entry.Status = "updated"
		}
	} else {
		entry.Status = "declined"
	}

	smsBody := fmt.Sprintf("%s chose %s for the %s appointment", d.CustomerName, choiceLabel, d.AppointmentSummary)
	if optionText != "" {
		smsBody += fmt.Sprintf(" (%s)", optionText)
	}
	if err := f.sms.Send(ctx, d.TeammatePhone, smsBody); err != nil {
		f.logger.Error().Err(err).Str("to", d.TeammatePhone).Msg("customer flow: sms notification failed")
	}

	if err := f.audit.LogCustomerResponse(ctx, entry); err != nil {
		f.logger.Warn().Err(err).Msg("customer flow: audit log failed")
	}
	return entry
}

// HandleTurn runs one turn of the customer-side graph: generateResponse,
// then — if a tool fired — executeTools followed immediately by the
// graph's closing LLM turn, per §4.J's "any tool call -> final LLM turn ->
// end" termination rule.
func (f *CustomerFlow) HandleTurn(ctx context.Context, conversationID string, d *session.DelayData, transcript string) (reply string, ended bool, err error) {
	prompt := systemPrompt(d)

	reply, toolCall, err := f.generateResponse(ctx, conversationID, prompt, transcript)
	if err != nil {
		return reply, false, err
	}

	if toolCall != nil {
		f.executeTool(ctx, toolCall, d)
		final, _, finalErr := f.generateResponse(ctx, conversationID, prompt, fmt.Sprintf("(%s has been recorded.)", toolCall.ToolName))
		if finalErr == nil && final != "" {
			return final, true, nil
		}
		return reply, true, finalErr
	}

	ended = strings.Contains(strings.ToLower(reply), "have a great day")
	return reply, ended, nil
}
