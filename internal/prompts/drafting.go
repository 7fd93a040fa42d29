package prompts

import (
	"fmt"
	"strings"
)

// DraftLabel prefixes every generated draft.
const DraftLabel = "DRAFT — for your review"

// DraftProvenance follows the label and states where the content came from.
const DraftProvenance = "Generated only from this session's conversation and the supplied patient data summary. Verify before charting."

// NoSummaryProvided stands in for an absent patient data summary.
const NoSummaryProvided = "No specific patient data log entries provided for this draft."

// NotSpecified is the placeholder for template sections the session does
// not cover.
const NotSpecified = "Not specified in session."

const dataConstraint = `CRITICAL DATA CONSTRAINT: You MUST ONLY use information explicitly stated during this session (shown in <conversation_history>) or provided in <patient_data_log_summary>. DO NOT invent information, infer beyond the provided data, or reference any external EHR or unstated source.`

const noteDraftTemplate = `%s

You are assisting a nurse by drafting a brief nursing note.

<conversation_history>
%s
</conversation_history>

<patient_data_log_summary>
%s
</patient_data_log_summary>

<user_request>
%s
</user_request>

## Task
1. Work out the type of note requested (progress note, SOAP note). Default to a SOAP note.
2. Synthesize relevant information exclusively from <conversation_history> and <patient_data_log_summary>.
3. %s

## Output Template
Note Type: (from the request)
Date/Time: Use current date/time

S (Subjective): patient-reported symptoms, feelings and concerns
O (Objective): vitals, observations and interventions reported by the nurse
A (Assessment): the nurse's stated assessment or the evident clinical picture
P (Plan): planned interventions, monitoring and follow-up discussed

If nothing in the context supports a section, write "%s" for it.

## Guardrails
- The nurse is the final authority. Present this as a draft for review.
- Keep it concise and easy to review.
- If the conversation is too thin to draft a meaningful note, say that more information from the session is needed.
- Output plain text only.`

const handoffDraftTemplate = `%s

You are assisting a nurse by drafting a brief shift handoff report.

<conversation_history>
%s
</conversation_history>

<patient_data_log_summary>
%s
</patient_data_log_summary>

<user_request>
%s
</user_request>

## Task
1. Identify what is relevant for continuity of care at shift change.
2. Synthesize key information exclusively from <conversation_history> and <patient_data_log_summary>.
3. %s

## Output Template
Patient: name or identifier if mentioned, otherwise "Patient discussed in session"
Date/Time: Use current date/time

Key Events: new symptoms, interventions and status changes discussed
Pending Tasks: follow-ups, due medications and outstanding results discussed
Critical Alerts: significant concerns or critical values shared

If nothing in the context supports a section, write "%s" for it.

## Guardrails
- Prioritize information critical for patient safety.
- Be extremely concise. The report is read in seconds.
- If the conversation is too thin, say that more information from the session is needed.
- Output plain text only.`

func orSummary(summary string) string {
	if strings.TrimSpace(summary) == "" {
		return NoSummaryProvided
	}
	return summary
}

// NoteDraft returns the system prompt for drafting a nursing note from
// the transcript, the optional patient summary and the nurse's request.
func NoteDraft(transcript, summary, request string) string {
	return fmt.Sprintf(noteDraftTemplate, preamble(), transcript, orSummary(summary), request, dataConstraint, NotSpecified)
}

// HandoffDraft returns the system prompt for drafting a shift handoff.
func HandoffDraft(transcript, summary, request string) string {
	return fmt.Sprintf(handoffDraftTemplate, preamble(), transcript, orSummary(summary), request, dataConstraint, NotSpecified)
}

// LabelDraft prefixes body with the draft label and provenance line.
func LabelDraft(body string) string {
	return DraftLabel + "\n" + DraftProvenance + "\n\n" + strings.TrimSpace(body)
}
