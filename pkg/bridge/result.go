package bridge

import (
	"encoding/json"
	"errors"
	"strings"

	mcperrors "github.com/Geralt1983/Thanos-sub001/pkg/errors"
	"github.com/Geralt1983/Thanos-sub001/pkg/transport"
)

// Result is the uniform outcome of one tool call. Failures the server
// reported in-band arrive as a Result with Success false and Err set;
// infrastructure failures never produce a Result at all, they surface as
// returned errors from CallTool.
type Result struct {
	// Success is false when the server flagged the call as failed.
	Success bool

	// Data holds the parsed payload: the server's structured content when
	// present, otherwise the text content parsed as JSON.
	Data interface{}

	// Text holds the raw text payload when it was not valid JSON.
	Text string

	// Err describes the failure for unsuccessful results.
	Err error
}

// normalizeResult maps the transport view of a call outcome onto a Result.
func normalizeResult(server, tool string, tr *transport.ToolResult) *Result {
	if tr == nil {
		return &Result{Success: true}
	}

	joined := strings.Join(tr.Texts, "\n")

	if tr.IsError {
		msg := joined
		if msg == "" {
			msg = "tool execution failed"
		}
		return &Result{
			Success: false,
			Text:    msg,
			Err:     mcperrors.ToolExecutionError(server, tool, errors.New(msg)),
		}
	}

	if tr.Structured != nil {
		return &Result{Success: true, Data: tr.Structured}
	}

	if joined == "" {
		return &Result{Success: true}
	}

	var parsed interface{}
	if err := json.Unmarshal([]byte(joined), &parsed); err == nil {
		return &Result{Success: true, Data: parsed}
	}
	return &Result{Success: true, Text: joined}
}
