package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// The engine is an untyped boundary: it is asked for schema-constrained
// JSON but may answer in prose. The strategies below are tried in order and
// each can be tested on its own.

var (
	// ErrNoFindingsOutput means no strategy recognized the analysis output.
	ErrNoFindingsOutput = errors.New("no findings output recognized")
	// ErrNoCommitHash means no strategy could attribute a commit to a fix.
	ErrNoCommitHash = errors.New("no commit hash found")
)

var (
	jsonFenceRegex   = regexp.MustCompile("```json\\s*")
	findingLineRegex = regexp.MustCompile(`\[FINDING\]\s+number=(\d+)\s+file=([^\s]+)\s+line=(\d+)\s+title="([^"]+)"\s+description="([^"]+)"`)

	commitHashPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b([a-f0-9]{40})\b`),
		regexp.MustCompile(`(?i)commit[_\s]*hash[:\s]*[` + "`" + `"']?([a-f0-9]{7,40})[` + "`" + `"']?`),
		regexp.MustCompile(`(?i)rev-parse.*?([a-f0-9]{40})`),
	}
)

// FlexInt decodes a JSON number or a numeric string.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = FlexInt(int(n))
	return nil
}

// RawFinding is one finding as reported by the engine.
type RawFinding struct {
	SourceFile    string   `json:"source_file"`
	SourceLine    FlexInt  `json:"source_line"`
	SourceLineEnd *FlexInt `json:"source_line_end"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Scenario      string   `json:"scenario"`
	Reason        string   `json:"reason"`
	FixPlan       string   `json:"fix_plan"`
	FixSummary    string   `json:"fix_summary"`

	// Shapes produced by the text fallbacks.
	Number  FlexInt `json:"number"`
	File    string  `json:"file"`
	Line    FlexInt `json:"line"`
	Finding string  `json:"finding"`
}

func (f *RawFinding) normalize() {
	if f.SourceFile == "" {
		f.SourceFile = f.File
	}
	if f.SourceLine == 0 {
		f.SourceLine = f.Line
	}
	if f.Scenario == "" {
		f.Scenario = f.Reason
	}
	f.Scenario = strings.ReplaceAll(f.Scenario, "\\`\\`\\`", "```")
}

// FixReport is the structured outcome of a fix invocation.
type FixReport struct {
	File       string   `json:"file"`
	Line       *FlexInt `json:"line"`
	LineEnd    *FlexInt `json:"line_end"`
	CommitHash string   `json:"commit_hash"`
	// NoChanges is set when the engine decided the code needed no edit.
	NoChanges bool `json:"no_changes"`
}

// FindingStrategy recovers findings from one shape of engine output.
type FindingStrategy struct {
	Name    string
	Extract func(resp *Response) ([]RawFinding, bool)
}

// FindingStrategies is the ordered extraction chain for analysis output.
var FindingStrategies = []FindingStrategy{
	{Name: "structured_output", Extract: findingsFromStructuredOutput},
	{Name: "result_json", Extract: findingsFromResultJSON},
	{Name: "text_blocks", Extract: findingsFromText},
}

// ExtractFindings runs the chain and reports which strategy matched.
// An empty name means nothing was recovered.
func ExtractFindings(resp *Response) ([]RawFinding, string) {
	if resp == nil {
		return nil, ""
	}
	for _, s := range FindingStrategies {
		if findings, ok := s.Extract(resp); ok {
			for i := range findings {
				findings[i].normalize()
			}
			return findings, s.Name
		}
	}
	return nil, ""
}

func findingsFromStructuredOutput(resp *Response) ([]RawFinding, bool) {
	obj, ok := resp.Raw["structured_output"].(map[string]any)
	if !ok || len(obj) == 0 {
		return nil, false
	}
	return findingsFromObject(obj)
}

func findingsFromResultJSON(resp *Response) ([]RawFinding, bool) {
	switch v := resp.Raw["result"].(type) {
	case map[string]any:
		return findingsFromObject(v)
	case string:
		var obj map[string]any
		if err := json.Unmarshal([]byte(StripMarkdownFence(v)), &obj); err != nil {
			return nil, false
		}
		return findingsFromObject(obj)
	}
	return nil, false
}

func findingsFromText(resp *Response) ([]RawFinding, bool) {
	text, ok := resp.Raw["result"].(string)
	if !ok {
		return nil, false
	}
	var findings []RawFinding
	for _, block := range JSONBlocks(text) {
		var candidate map[string]any
		if err := json.Unmarshal([]byte(block), &candidate); err != nil {
			continue
		}
		if !hasAnyKey(candidate, "number", "finding", "title") {
			continue
		}
		var f RawFinding
		if err := json.Unmarshal([]byte(block), &f); err != nil {
			continue
		}
		findings = append(findings, f)
	}
	for _, m := range findingLineRegex.FindAllStringSubmatch(text, -1) {
		num, _ := strconv.Atoi(m[1])
		line, _ := strconv.Atoi(m[3])
		findings = append(findings, RawFinding{
			Number:      FlexInt(num),
			File:        m[2],
			Line:        FlexInt(line),
			Title:       m[4],
			Description: m[5],
		})
	}
	return findings, len(findings) > 0
}

func findingsFromObject(obj map[string]any) ([]RawFinding, bool) {
	if raw, ok := obj["findings"]; ok {
		var findings []RawFinding
		if err := remarshal(raw, &findings); err != nil {
			return nil, false
		}
		return findings, true
	}
	if _, ok := obj["commit_hash"]; ok {
		var f RawFinding
		if err := remarshal(obj, &f); err != nil {
			return nil, false
		}
		return []RawFinding{f}, true
	}
	return nil, false
}

// ExtractFixReport looks for a structured fix result carrying a commit hash
// or a no_changes flag in structured_output, the result JSON, or a fenced JSON block.
func ExtractFixReport(resp *Response) (*FixReport, string) {
	if resp == nil {
		return nil, ""
	}
	if obj, ok := resp.Raw["structured_output"].(map[string]any); ok {
		if r := fixReportFromObject(obj); r != nil {
			return r, "structured_output"
		}
	}
	switch v := resp.Raw["result"].(type) {
	case map[string]any:
		if r := fixReportFromObject(v); r != nil {
			return r, "result_json"
		}
	case string:
		var obj map[string]any
		if err := json.Unmarshal([]byte(StripMarkdownFence(v)), &obj); err == nil {
			if r := fixReportFromObject(obj); r != nil {
				return r, "result_json"
			}
		}
		for _, block := range JSONBlocks(v) {
			var obj map[string]any
			if err := json.Unmarshal([]byte(block), &obj); err != nil {
				continue
			}
			if r := fixReportFromObject(obj); r != nil {
				return r, "json_block"
			}
		}
	}
	return nil, ""
}

func fixReportFromObject(obj map[string]any) *FixReport {
	hash, _ := obj["commit_hash"].(string)
	noChanges, _ := obj["no_changes"].(bool)
	if strings.TrimSpace(hash) == "" && !noChanges {
		return nil
	}
	var r FixReport
	if err := remarshal(obj, &r); err != nil {
		return &FixReport{CommitHash: strings.TrimSpace(hash), NoChanges: noChanges}
	}
	r.CommitHash = strings.TrimSpace(r.CommitHash)
	return &r
}

// CommitHashFromText finds a commit id in prose: a bare 40-hex token, a
// labeled "commit hash" token, or a token after a rev-parse mention.
func CommitHashFromText(text string) (string, bool) {
	for _, re := range commitHashPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// JSONBlocks returns every brace-balanced object that directly follows a
// ```json fence. Braces inside string literals are ignored.
func JSONBlocks(text string) []string {
	var blocks []string
	for _, loc := range jsonFenceRegex.FindAllStringIndex(text, -1) {
		start := loc[1]
		if start >= len(text) || text[start] != '{' {
			continue
		}
		if end := matchBrace(text, start); end > start {
			blocks = append(blocks, text[start:end])
		}
	}
	return blocks
}

func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// StripMarkdownFence removes a single wrapping ``` fence, if present.
func StripMarkdownFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	idx := strings.Index(trimmed, "\n")
	if idx < 0 {
		return s
	}
	inner := trimmed[idx+1:]
	if lastFence := strings.LastIndex(inner, "```"); lastFence >= 0 {
		inner = inner[:lastFence]
	}
	return strings.TrimSpace(inner)
}

func hasAnyKey(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func remarshal(in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
