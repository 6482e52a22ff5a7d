package orchestrator

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/dbusmcp/opctl/pkg/models"
)

// forbiddenCLIPatterns is carried over verbatim from the Rust original's
// validate_response_for_cli_commands (FORBIDDEN_CLI_PATTERNS) in
// op-chat/src/chat_loop.rs: this system talks to D-Bus, OVSDB JSON-RPC
// and rtnetlink directly, never by shelling out, so any of these tokens
// appearing in model output means the model is hallucinating a CLI
// workflow instead of calling a real tool.
var forbiddenCLIPatterns = []string{
	"ovs-vsctl",
	"ovs-ofctl",
	"ovs-dpctl",
	"ovs-appctl",
	"ovsdb-client",
	"systemctl ",
	"service ",
	"ip link",
	"ip addr",
	"ip route",
	"ifconfig",
	"nmcli",
	"brctl",
	"apt install",
	"apt update",
	"yum install",
	"dnf install",
	"sudo apt",
	"sudo yum",
	"sudo dnf",
}

// DetectForbiddenCommands scans text for forbidden CLI patterns,
// case-insensitively, returning one ForbiddenDetection per matched
// pattern in deny-list order.
func DetectForbiddenCommands(text string) []models.ForbiddenDetection {
	lower := strings.ToLower(text)
	var found []models.ForbiddenDetection
	for _, pattern := range forbiddenCLIPatterns {
		if idx := strings.Index(lower, pattern); idx >= 0 {
			found = append(found, models.ForbiddenDetection{
				Token:   pattern,
				Snippet: snippetAround(text, idx, len(pattern)),
			})
		}
	}
	return found
}

// snippetAround returns up to 40 characters of context on either side of
// a match, for inclusion in the hallucination detail.
func snippetAround(text string, idx, matchLen int) string {
	const context = 40
	start := idx - context
	if start < 0 {
		start = 0
	}
	end := idx + matchLen + context
	if end > len(text) {
		end = len(text)
	}
	return strings.TrimSpace(text[start:end])
}

// inlineToolCallPattern matches inline <tool_call>{...}</tool_call>
// blocks a model may emit in raw text instead of a structured tool_calls
// field, per spec.md §4.4 step 3.
var inlineToolCallPattern = regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`)

// ParseInlineToolCalls extracts any inline <tool_call>{...}</tool_call>
// blocks from text. Each block's JSON body is expected to look like a
// models.ToolCall ({"name": ..., "arguments": {...}}); malformed blocks
// are skipped rather than failing the whole scan, since one bad block
// should not discard calls that did parse.
func ParseInlineToolCalls(text string) []models.ToolCall {
	matches := inlineToolCallPattern.FindAllStringSubmatch(text, -1)
	calls := make([]models.ToolCall, 0, len(matches))
	for _, m := range matches {
		var call models.ToolCall
		if err := json.Unmarshal([]byte(m[1]), &call); err != nil {
			continue
		}
		if call.Name == "" {
			continue
		}
		calls = append(calls, call)
	}
	return calls
}

// claimPhrases are first-person completion phrases that, followed by a
// tool name the turn did not actually execute, indicate the model is
// describing an action it never took. There is no original_source/
// grounding for this check (chat_loop.rs only implements the raw-text
// and forbidden-command checks) — this heuristic is a from-scratch
// design decision, recorded in DESIGN.md's Open Questions.
var claimPhrases = []string{
	"i've run", "i have run", "i ran", "i executed", "i've executed",
	"i called", "i've called", "i invoked", "i've invoked", "i applied", "i've applied",
}

// DetectUnexecutedClaims scans text for a claim phrase immediately
// followed by the name of a known tool that is not in executed, and
// returns the offending tool names.
func DetectUnexecutedClaims(text string, knownTools, executed []string) []string {
	lower := strings.ToLower(text)
	executedSet := make(map[string]bool, len(executed))
	for _, name := range executed {
		executedSet[name] = true
	}

	var claims []string
	claimed := make(map[string]bool)
	for _, phrase := range claimPhrases {
		searchFrom := 0
		for {
			idx := strings.Index(lower[searchFrom:], phrase)
			if idx < 0 {
				break
			}
			windowStart := searchFrom + idx
			windowEnd := windowStart + len(phrase) + 60
			if windowEnd > len(lower) {
				windowEnd = len(lower)
			}
			window := lower[windowStart:windowEnd]
			for _, tool := range knownTools {
				if tool == "" || executedSet[tool] || claimed[tool] {
					continue
				}
				if strings.Contains(window, strings.ToLower(tool)) {
					claims = append(claims, tool)
					claimed[tool] = true
				}
			}
			searchFrom = windowStart + len(phrase)
		}
	}
	return claims
}
