package llm

// FindingsSchema constrains analysis output to a list of findings.
const FindingsSchema = `{
  "type": "object",
  "properties": {
    "findings": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "source_file": {"type": "string", "description": "File path where the problem was found"},
          "source_line": {"type": "integer", "description": "Line number where the problem was found"},
          "source_line_end": {"type": "integer", "description": "Last line of the problem range (optional)"},
          "title": {"type": "string", "description": "Short title of the problem"},
          "description": {"type": "string", "description": "One or two sentence explanation"},
          "scenario": {"type": "string", "description": "Step by step scenario that triggers the problem"},
          "fix_plan": {"type": "string", "description": "How to fix the problem"},
          "fix_summary": {"type": "string", "description": "One or two sentence summary of the fix"}
        },
        "required": ["source_file", "source_line", "title", "description", "scenario", "fix_plan", "fix_summary"]
      }
    }
  },
  "required": ["findings"]
}`

// FixResultSchema constrains fix output to the location and resulting commit.
const FixResultSchema = `{
  "type": "object",
  "properties": {
    "file": {"type": "string", "description": "File the fix was applied to"},
    "line": {"type": "integer", "description": "Line the fix was applied to"},
    "line_end": {"type": "integer", "description": "Last line of the fixed range"},
    "commit_hash": {"type": "string", "description": "40 character output of git rev-parse HEAD"},
    "no_changes": {"type": "boolean", "description": "true when the code already satisfies the fix plan and nothing was committed"}
  },
  "required": ["file", "line", "commit_hash"]
}`
