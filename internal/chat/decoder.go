package chat

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/aborealis/ragclient/internal/domain"
)

// FrameKind tags the variant of a decoded inbound frame.
type FrameKind int

const (
	FrameDropped FrameKind = iota
	FrameUsageReport
	FrameAgentHandoff
	FrameStructuredResult
	FrameRetrievedChunks
	FrameQueryEcho
	FramePlainComment
	FrameRegularMessage
)

func (k FrameKind) String() string {
	switch k {
	case FrameUsageReport:
		return "usage_report"
	case FrameAgentHandoff:
		return "agent_handoff"
	case FrameStructuredResult:
		return "structured_result"
	case FrameRetrievedChunks:
		return "retrieved_chunks"
	case FrameQueryEcho:
		return "query_echo"
	case FramePlainComment:
		return "plain_comment"
	case FrameRegularMessage:
		return "regular_message"
	default:
		return "dropped"
	}
}

// Frame is one decoded inbound frame. Which fields are set depends on Kind.
type Frame struct {
	Kind    FrameKind
	Role    domain.Role
	Tokens  float64
	Comment string
	BotName string
	Payload json.RawMessage
	Chunks  []string
	Query   string
	Text    string
}

// Decode classifies a raw inbound frame.
//
// JSON objects are diagnostic frames dispatched on the first present key, in
// this order: tokens (numeric), bot_shortname, json_obj, chunks, search_query,
// message. Objects matching none of them decode to FrameDropped. Anything that
// is not a JSON object becomes an assistant message carrying the raw text.
func Decode(raw string) Frame {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return Frame{Kind: FrameRegularMessage, Role: domain.RoleAssistant, Text: raw}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil || obj == nil {
		return Frame{Kind: FrameRegularMessage, Role: domain.RoleAssistant, Text: raw}
	}

	frame := Frame{Role: domain.RoleDiagnostic, Comment: stringField(obj, "message")}

	if tokens, ok := numberField(obj, "tokens"); ok {
		frame.Kind = FrameUsageReport
		frame.Tokens = tokens
		return frame
	}
	if v, ok := obj["bot_shortname"]; ok {
		frame.Kind = FrameAgentHandoff
		frame.BotName = textOf(v)
		return frame
	}
	if v, ok := obj["json_obj"]; ok {
		frame.Kind = FrameStructuredResult
		frame.Payload = v
		return frame
	}
	if v, ok := obj["chunks"]; ok {
		frame.Kind = FrameRetrievedChunks
		frame.Chunks = chunksOf(v)
		return frame
	}
	if v, ok := obj["search_query"]; ok {
		frame.Kind = FrameQueryEcho
		frame.Query = textOf(v)
		return frame
	}
	if _, ok := obj["message"]; ok {
		frame.Kind = FramePlainComment
		return frame
	}

	frame.Kind = FrameDropped
	return frame
}

func numberField(obj map[string]json.RawMessage, key string) (float64, bool) {
	v, ok := obj[key]
	if !ok {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(v, &n); err != nil {
		return 0, false
	}
	return n, true
}

func stringField(obj map[string]json.RawMessage, key string) string {
	v, ok := obj[key]
	if !ok {
		return ""
	}
	return textOf(v)
}

// textOf renders a JSON value as display text: strings unquoted, null empty,
// anything else as its JSON encoding.
func textOf(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	if string(v) == "null" {
		return ""
	}
	return string(v)
}

func chunksOf(v json.RawMessage) []string {
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		return []string{textOf(v)}
	}
	chunks := make([]string, 0, len(items))
	for _, item := range items {
		chunks = append(chunks, textOf(item))
	}
	return chunks
}

// indentJSON pretty-prints a JSON value with two-space indentation.
func indentJSON(v json.RawMessage) string {
	var out bytes.Buffer
	if err := json.Indent(&out, v, "", "  "); err != nil {
		return string(v)
	}
	return out.String()
}
