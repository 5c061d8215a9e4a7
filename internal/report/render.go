package report

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/docqa/internal/evaluation"
	"github.com/fyrsmithlabs/docqa/internal/orchestrator"
)

const excerptWidth = 96

// Answer renders a pipeline response: the answer, its evidence and any
// phase that did not complete cleanly.
func Answer(resp *orchestrator.Response) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(" docqa ") + "\n")
	if resp == nil {
		b.WriteString(errorStyle.Render("no response") + "\n")
		return b.String()
	}

	b.WriteString(labelStyle.Render("Question: ") + valueStyle.Render(resp.Question) + "\n")

	ans := resp.Answer
	if ans == nil {
		b.WriteString(errorStyle.Render("✗ no answer produced") + "\n")
	} else {
		b.WriteString(sectionStyle.Render("┃ Answer") + "\n")
		b.WriteString(ans.Text + "\n")
		b.WriteString(labelStyle.Render("  Confidence: ") + confidenceBadge(ans.Confidence, ans.Degraded) +
			"   " + dimStyle.Render("mode="+string(ans.Mode)) + "\n")
		if ans.MissingInformation != "" {
			b.WriteString(labelStyle.Render("  Missing: ") + warningStyle.Render(ans.MissingInformation) + "\n")
		}
		for _, p := range ans.Contradictions {
			b.WriteString(labelStyle.Render("  Contradiction: ") + warningStyle.Render(p.A+" ↔ "+p.B) + "\n")
		}
	}

	if ev := resp.Evidence(); len(ev) > 0 {
		b.WriteString(sectionStyle.Render("┃ Evidence") + "\n")
		for i, e := range ev {
			loc := e.Source
			if e.Page > 0 {
				loc += fmt.Sprintf(" p.%d", e.Page)
			}
			if e.Section != "" {
				loc += " § " + e.Section
			}
			b.WriteString(fmt.Sprintf("  %s %s %s\n",
				valueStyle.Render(fmt.Sprintf("[%d]", i+1)),
				labelStyle.Render(e.ChunkID),
				dimStyle.Render(loc+"  score="+FormatScore(e.Score))))
			b.WriteString("      " + dimStyle.Render(excerpt(e.Text)) + "\n")
		}
	}

	for _, ph := range resp.Phases {
		if ph.Status == orchestrator.StatusCompleted {
			continue
		}
		line := fmt.Sprintf("  %s %s", ph.Phase, ph.Status)
		if ph.Error != "" {
			line += ": " + ph.Error
		}
		b.WriteString(warningStyle.Render(line) + "\n")
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("request %s  %s", resp.RequestID,
		FormatLatency(float64(resp.LatencyMS)/1000))) + "\n")
	return b.String()
}

// Evaluation renders the summary of an evaluation run. With verbose set
// each question gets its own line.
func Evaluation(rep *evaluation.Report, verbose bool) string {
	if rep == nil {
		empty := evaluation.Report{Summary: evaluation.EmptySummary()}
		rep = &empty
	}
	s := rep.Summary

	var content string
	content += headerStyle.Render(" docqa Evaluation ") + "   " +
		hallucinationBadge(s.HallucinationRate) + "   " +
		dimStyle.Render(fmt.Sprintf("%d questions", s.NumQuestions)) + "\n"

	content += "\n" + sectionStyle.Render("┃ Answers") + "\n"
	content += row("Hallucination rate", FormatValue(s.HallucinationRate, FormatPercentage))
	content += row("Embedding similarity", FormatValue(s.EmbeddingSimilarity.Mean, FormatScore))

	content += "\n" + sectionStyle.Render("┃ Retrieval") + "\n"
	content += row("Precision", FormatValue(s.RetrievalPrecision, FormatPercentage))
	content += row("Recall", FormatValue(s.RetrievalRecall, FormatPercentage))

	content += "\n" + sectionStyle.Render("┃ Latency") + "\n"
	content += row("Avg", FormatValue(s.Latency.Avg, FormatLatency))
	content += row("Min", FormatValue(s.Latency.Min, FormatLatency))
	content += row("Max", FormatValue(s.Latency.Max, FormatLatency))

	if verbose && len(rep.Records) > 0 {
		content += "\n" + sectionStyle.Render("┃ Questions") + "\n"
		for _, r := range rep.Records {
			content += recordLine(r)
		}
	}
	return containerStyle.Render(strings.TrimRight(content, "\n")) + "\n"
}

func row(label, value string) string {
	return labelStyle.Render(fmt.Sprintf("  %-22s", label+":")) + valueStyle.Render(value) + "\n"
}

func recordLine(r evaluation.Record) string {
	var badge string
	switch {
	case r.Error != "":
		badge = errorStyle.Render("[✗]")
	case r.Hallucinated:
		badge = warningStyle.Render("[⚠]")
	default:
		badge = healthyStyle.Render("[✓]")
	}
	line := fmt.Sprintf("  %s %s %s\n", badge, r.Question,
		dimStyle.Render(fmt.Sprintf("(%s, %s)", r.Mode, FormatLatency(r.LatencyS))))
	if r.Error != "" {
		line += "      " + errorStyle.Render(r.Error) + "\n"
	}
	for _, c := range r.UnsupportedClaims {
		line += "      " + dimStyle.Render("unsupported: "+excerpt(c)) + "\n"
	}
	return line
}

// hallucinationBadge returns a colored status badge for the hallucination rate
func hallucinationBadge(rate evaluation.Value) string {
	v, ok := rate.Get()
	switch {
	case !ok:
		return dimStyle.Render("– N/A")
	case v < 0.1:
		return healthyStyle.Render("✓ GROUNDED")
	case v < 0.3:
		return warningStyle.Render("⚠ WARN")
	default:
		return errorStyle.Render("✗ HALLUCINATING")
	}
}

func confidenceBadge(confidence float64, degraded bool) string {
	text := FormatScore(confidence)
	switch {
	case degraded:
		return errorStyle.Render(text + " degraded")
	case confidence >= 0.6:
		return healthyStyle.Render(text)
	default:
		return warningStyle.Render(text)
	}
}

func excerpt(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= excerptWidth {
		return text
	}
	return string(r[:excerptWidth-1]) + "…"
}
