package protocol

import "encoding/json"

const (
	TypeEvent = "event"
	TypeReq   = "req"
	TypeResp  = "resp"
)

const (
	OpOutputAppend = "output.append"
	OpOutputClear  = "output.clear"
	OpJobDone      = "job.done"
	OpTaskProgress = "task.progress"
	OpHello        = "hello"
	OpPing         = "ping"
)

type Message struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload"`
	Error   *ErrPayload     `json:"error,omitempty"`
}

type ErrPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type OutputAppend struct {
	Seq  uint64 `json:"seq"`
	Text string `json:"text"`
}

type JobDone struct {
	Seq       uint64  `json:"seq"`
	Line      string  `json:"line"`
	ExitCode  int     `json:"exit_code"`
	Cancelled bool    `json:"cancelled"`
	Error     string  `json:"error,omitempty"`
	Seconds   float64 `json:"seconds"`
}

type TaskProgress struct {
	Loading  int      `json:"loading"`
	Saving   int      `json:"saving"`
	Quiet    int      `json:"quiet"`
	Progress int64    `json:"progress"`
	Total    int64    `json:"total"`
	Files    []string `json:"files,omitempty"`
}

func MustRaw(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// Event builds an event message with payload v.
func Event(id, op string, v any) Message {
	return Message{ID: id, Type: TypeEvent, Op: op, Payload: MustRaw(v)}
}
