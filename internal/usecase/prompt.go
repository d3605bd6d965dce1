package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"collections-agent/internal/domain"
	"collections-agent/internal/schema"
)

const (
	labelCollector = "Debt Collector"
	labelDebtor    = "Debtor"
)

type summaryResponse struct {
	Summary string         `json:"summary"`
	Outcome domain.Outcome `json:"outcome"`
}

func buildSummaryMessages(entries []domain.TranscriptEntry) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: summarySystemPrompt()},
		{Role: domain.RoleUser, Content: formatTranscript(entries)},
	}
}

func summarySystemPrompt() string {
	return strings.Join([]string{
		"You are a helpful assistant who accurately summarizes conversations.",
		"",
		"You will be provided a transcript of a call between a debt collector and a debtor. " +
			"Take special note about what was being discussed and what is the final resolution of the call.",
		"",
		"Your summary should be a list of points describing the high level key events that happened during the call. " +
			"Do not insert bullet points or other formatting.",
		"",
		"It should be formatted like:",
		"Debtor ...",
		"Debt Collector ...",
		"",
		"For the outcome, it should be successful if both parties agree to a settlement or payment plan. " +
			"It should be unsuccessful if the debtor is not willing to pay or the debt collector is not able to get a response from the debtor. " +
			"It should be pending if the debt collector is still trying to reach the debtor.",
	}, "\n")
}

// formatTranscript renders one "Speaker: text" line per entry.
func formatTranscript(entries []domain.TranscriptEntry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		label := labelDebtor
		if e.Speaker == domain.SpeakerAgent {
			label = labelCollector
		}
		lines = append(lines, label+": "+e.Text)
	}
	return strings.Join(lines, "\n")
}

func parseSummary(raw string) (summaryResponse, error) {
	raw = strings.TrimSpace(raw)
	if err := schema.Validate(schema.ConversationSummary, []byte(raw)); err != nil {
		return summaryResponse{}, fmt.Errorf("usecase: summary: %w", err)
	}
	var out summaryResponse
	dec := json.NewDecoder(bytes.NewBufferString(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return summaryResponse{}, fmt.Errorf("usecase: decode summary: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return summaryResponse{}, errors.New("usecase: decode summary: multiple JSON values")
		}
		return summaryResponse{}, fmt.Errorf("usecase: decode summary trailing data: %w", err)
	}
	out.Summary = strings.TrimSpace(out.Summary)
	if out.Summary == "" {
		return summaryResponse{}, errors.New("usecase: summary text is empty")
	}
	if !out.Outcome.Valid() {
		return summaryResponse{}, fmt.Errorf("usecase: summary outcome %q is not valid", out.Outcome)
	}
	return out, nil
}

// buildCallScript is the instruction prompt the voice agent follows when
// the operator supplies none.
func buildCallScript(settings domain.AgentSettings, debtor *domain.Debtor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a debt collection agent placing an outbound call.\n", settings.AgentName)
	if debtor != nil {
		fmt.Fprintf(&b, "\nCollection Strategy for %s:\n", debtor.Name)
		b.WriteString("\n1. Initial Approach:\n")
		fmt.Fprintf(&b, "   - Acknowledge the total debt amount: $%.2f\n", debtor.TotalOwed)
		if debtor.TypeOfDebt != "" {
			fmt.Fprintf(&b, "   - Note that this is a %s debt\n", debtor.TypeOfDebt)
		}
		if debtor.DebtAge > 0 {
			fmt.Fprintf(&b, "   - Consider the debt age of %d days\n", debtor.DebtAge)
		}
		b.WriteString("\n2. Communication Plan:\n")
		if debtor.Language != "" {
			fmt.Fprintf(&b, "   - Primary language: %s\n", debtor.Language)
		}
		if debtor.City != "" || debtor.State != "" {
			fmt.Fprintf(&b, "   - Location: %s\n", joinNonEmpty(", ", debtor.City, debtor.State))
		}
		b.WriteString("   - Use empathetic but firm tone\n")
	}
	b.WriteString("\nPayment Discussion:\n")
	b.WriteString("   - Explore payment plan options\n")
	b.WriteString("   - Discuss potential settlement offers\n")
	b.WriteString("   - Confirm any agreement clearly before ending the call\n")
	b.WriteString("\nCompliance:\n")
	b.WriteString("   - Follow FDCPA guidelines and maintain a professional demeanor\n")
	b.WriteString("   - If the debtor asks you to stop calling or disputes the debt, acknowledge it and end the call\n")
	b.WriteString("\nAgent Script:\n")
	fmt.Fprintf(&b, "   %q\n", settings.Greeting)
	fmt.Fprintf(&b, "   %q\n", settings.MiniMiranda)
	for _, d := range settings.Disclaimers {
		fmt.Fprintf(&b, "   %q\n", d)
	}
	return strings.TrimRight(b.String(), "\n")
}

func joinNonEmpty(sep string, parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}

func buildAnalysisMessages(debtors []domain.Debtor) ([]domain.ChatMessage, error) {
	payload, err := json.MarshalIndent(debtors, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("usecase: marshal debtors: %w", err)
	}
	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: analysisSystemPrompt()},
		{Role: domain.RoleUser, Content: "Analyze these debtors and provide suggestions: " + string(payload)},
	}, nil
}

func analysisSystemPrompt() string {
	return strings.Join([]string{
		"You are a debt collection AI analyst. Your task is to analyze debtor profiles and suggest appropriate tags and segments based on their data. " +
			"Consider all available factors including debt amount, age, payment history, debt type, location, and language preferences.",
		"",
		"Available tags:",
		"- High Priority (large amounts, long overdue, or concerning patterns)",
		"- Medium Priority (moderate risk or amount)",
		"- Low Priority (small amounts or good payment history)",
		"- Payment Plan Candidate (shows willingness to pay or partial payments)",
		"- Legal Review Needed (bankruptcy, disputes, or severe cases)",
		"- Special Handling (language requirements or unique circumstances)",
		"- Unresponsive (no contact or failed attempts)",
		"- Dispute Pending (active disputes or complaints)",
		"",
		"For each debtor, provide a structured analysis:",
		"1. Risk Assessment:",
		"   - Risk Level: (High/Medium/Low)",
		"   - Key Risk Factors",
		"",
		"2. Suggested Tags:",
		"   - List applicable tags",
		"   - Brief justification for each tag",
		"",
		"3. Collection Strategy:",
		"   - Recommended approach",
		"   - Communication preferences",
		"   - Special considerations",
		"",
		"4. Priority Actions:",
		"   - Immediate next steps",
		"   - Timeline recommendations",
	}, "\n")
}
