package llm

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFindings(t *testing.T) {
	hash := strings.Repeat("ab", 20)

	tests := []struct {
		name         string
		stdout       string
		wantStrategy string
		wantTitles   []string
	}{
		{
			name:         "structured output",
			stdout:       `{"result":"done","structured_output":{"findings":[{"source_file":"a.go","source_line":3,"title":"nil map","description":"d","scenario":"s","fix_plan":"p","fix_summary":"fs"}]},"total_cost_usd":0.12}`,
			wantStrategy: "structured_output",
			wantTitles:   []string{"nil map"},
		},
		{
			name:         "structured output with empty findings",
			stdout:       `{"structured_output":{"findings":[]}}`,
			wantStrategy: "structured_output",
			wantTitles:   []string{},
		},
		{
			name:         "result holds JSON string",
			stdout:       `{"result":"{\"findings\":[{\"source_file\":\"b.go\",\"source_line\":\"7\",\"title\":\"leak\"}]}"}`,
			wantStrategy: "result_json",
			wantTitles:   []string{"leak"},
		},
		{
			name:         "result holds fenced JSON",
			stdout:       "{\"result\":\"```json\\n{\\\"findings\\\":[{\\\"title\\\":\\\"race\\\"}]}\\n```\"}",
			wantStrategy: "result_json",
			wantTitles:   []string{"race"},
		},
		{
			name:         "result is an object with commit hash",
			stdout:       `{"result":{"file":"c.go","line":4,"commit_hash":"` + hash + `"}}`,
			wantStrategy: "result_json",
			wantTitles:   []string{""},
		},
		{
			name: "json blocks in prose",
			stdout: "{\"result\":\"Found two issues.\\n```json\\n{\\\"title\\\":\\\"first\\\",\\\"file\\\":\\\"x.go\\\",\\\"line\\\":2,\\\"description\\\":\\\"has } brace\\\"}\\n```\\n" +
				"and\\n```json\\n{\\\"unrelated\\\":true}\\n```\"}",
			wantStrategy: "text_blocks",
			wantTitles:   []string{"first"},
		},
		{
			name:         "finding line pattern",
			stdout:       `[FINDING] number=1 file=pkg/a.go line=12 title="off by one" description="loop skips last"`,
			wantStrategy: "text_blocks",
			wantTitles:   []string{"off by one"},
		},
		{
			name:         "nothing recoverable",
			stdout:       `{"result":"all good, no problems"}`,
			wantStrategy: "",
			wantTitles:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings, strategy := ExtractFindings(ParseResponse([]byte(tt.stdout)))
			assert.Equal(t, tt.wantStrategy, strategy)
			if tt.wantTitles == nil {
				assert.Empty(t, findings)
				return
			}
			titles := make([]string, 0, len(findings))
			for _, f := range findings {
				titles = append(titles, f.Title)
			}
			assert.Equal(t, tt.wantTitles, titles)
		})
	}
}

func TestExtractFindings_Normalizes(t *testing.T) {
	t.Run("line pattern maps file and line", func(t *testing.T) {
		resp := ParseResponse([]byte(`[FINDING] number=2 file=main.go line=40 title="t" description="d"`))
		findings, _ := ExtractFindings(resp)
		require.Len(t, findings, 1)
		assert.Equal(t, "main.go", findings[0].SourceFile)
		assert.Equal(t, FlexInt(40), findings[0].SourceLine)
		assert.Equal(t, FlexInt(2), findings[0].Number)
	})

	t.Run("reason fills scenario and fences are unescaped", func(t *testing.T) {
		payload, err := json.Marshal(map[string]any{
			"structured_output": map[string]any{
				"findings": []map[string]any{{
					"source_file": "a.go",
					"source_line": 1,
					"title":       "t",
					"reason":      "step\n\\`\\`\\`go\nx()",
				}},
			},
		})
		require.NoError(t, err)
		findings, _ := ExtractFindings(ParseResponse(payload))
		require.Len(t, findings, 1)
		assert.Equal(t, "step\n```go\nx()", findings[0].Scenario)
	})

	t.Run("optional range end", func(t *testing.T) {
		resp := ParseResponse([]byte(`{"structured_output":{"findings":[{"source_file":"a.go","source_line":1,"source_line_end":5,"title":"t"}]}}`))
		findings, _ := ExtractFindings(resp)
		require.Len(t, findings, 1)
		require.NotNil(t, findings[0].SourceLineEnd)
		assert.Equal(t, FlexInt(5), *findings[0].SourceLineEnd)
	})
}

func TestExtractFixReport(t *testing.T) {
	hash := strings.Repeat("c", 40)

	tests := []struct {
		name         string
		stdout       string
		wantStrategy string
		wantFile     string
	}{
		{name: "structured", stdout: `{"structured_output":{"file":"a.go","line":3,"commit_hash":"` + hash + `"}}`, wantStrategy: "structured_output", wantFile: "a.go"},
		{name: "result json", stdout: `{"result":"{\"file\":\"b.go\",\"line\":1,\"commit_hash\":\"` + hash + `\"}"}`, wantStrategy: "result_json", wantFile: "b.go"},
		{name: "json block", stdout: "{\"result\":\"Done.\\n```json\\n{\\\"file\\\":\\\"c.go\\\",\\\"line\\\":9,\\\"commit_hash\\\":\\\"" + hash + "\\\"}\\n```\"}", wantStrategy: "json_block", wantFile: "c.go"},
		{name: "empty hash", stdout: `{"structured_output":{"file":"a.go","line":3,"commit_hash":""}}`, wantStrategy: ""},
		{name: "prose", stdout: `{"result":"I could not commit"}`, wantStrategy: ""},
		{name: "no changes", stdout: `{"structured_output":{"file":"d.go","line":2,"commit_hash":"","no_changes":true}}`, wantStrategy: "structured_output", wantFile: "d.go"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, strategy := ExtractFixReport(ParseResponse([]byte(tt.stdout)))
			assert.Equal(t, tt.wantStrategy, strategy)
			if tt.wantStrategy == "" {
				assert.Nil(t, report)
				return
			}
			require.NotNil(t, report)
			assert.Equal(t, tt.wantFile, report.File)
			if report.NoChanges {
				assert.Empty(t, report.CommitHash)
				return
			}
			assert.Equal(t, hash, report.CommitHash)
		})
	}
}

func TestCommitHashFromText(t *testing.T) {
	full := "0123456789abcdef0123456789abcdef01234567"

	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{name: "bare hash", text: "HEAD is now " + full + ".", want: full, ok: true},
		{name: "uppercase hash", text: strings.ToUpper(full), want: strings.ToUpper(full), ok: true},
		{name: "labeled short hash", text: "Commit hash: `abc1234`", want: "abc1234", ok: true},
		{name: "labeled with underscore", text: `commit_hash: "deadbeef"`, want: "deadbeef", ok: true},
		{name: "no hash", text: "I edited the file but could not commit", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CommitHashFromText(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSONBlocks(t *testing.T) {
	text := "pre ```json\n{\"a\":{\"b\":\"}\\\"\"}}\n``` mid ```json\n[1,2]\n``` ```json\n{\"unterminated\": 1\n"
	blocks := JSONBlocks(text)
	require.Len(t, blocks, 1)
	assert.Equal(t, `{"a":{"b":"}\""}}`, blocks[0])
}

func TestParseResponse(t *testing.T) {
	t.Run("plain text", func(t *testing.T) {
		resp := ParseResponse([]byte("not json"))
		assert.Equal(t, "not json", resp.Text)
		assert.Equal(t, "not json", resp.Raw["result"])
	})

	t.Run("cost", func(t *testing.T) {
		resp := ParseResponse([]byte(`{"result":"ok","total_cost_usd":0.5}`))
		assert.Equal(t, 0.5, resp.CostUSD)
		assert.Equal(t, "ok", resp.Text)
	})

	t.Run("no result field", func(t *testing.T) {
		resp := ParseResponse([]byte(`{"structured_output":{"findings":[]}}`))
		assert.Contains(t, resp.Text, "structured_output")
	})
}

func TestStripMarkdownFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripMarkdownFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, "plain", StripMarkdownFence("plain"))
}
