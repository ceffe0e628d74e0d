package chat

import (
	"encoding/json"
	"fmt"
)

// render formats a decoded frame as message text plus an optional
// preformatted block. Usage reports and dropped frames render nothing.
func render(f Frame) (text, block string, ok bool) {
	switch f.Kind {
	case FrameAgentHandoff:
		return fmt.Sprintf("Comment: %s %s. This bot starts extracting the missing request details", f.Comment, f.BotName), "", true
	case FrameStructuredResult:
		return "Comment: " + f.Comment, indentJSON(f.Payload), true
	case FrameRetrievedChunks:
		data, err := json.Marshal(f.Chunks)
		if err != nil {
			return "Comment: " + f.Comment, "", true
		}
		return "Comment: " + f.Comment, indentJSON(data), true
	case FrameQueryEcho:
		return fmt.Sprintf("Comment: %s %s", f.Comment, f.Query), "", true
	case FramePlainComment:
		return "Comment: " + f.Comment, "", true
	case FrameRegularMessage:
		return f.Text, "", true
	default:
		return "", "", false
	}
}
