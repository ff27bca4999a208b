package protocol

import (
	"encoding/json"
	"testing"
)

func TestMessage_Decode(t *testing.T) {
	raw := []byte(`{"id":"req_1","type":"req","op":"ping","payload":{}}`)
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if msg.Op != OpPing || msg.Type != TypeReq {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestEvent_EncodesPayload(t *testing.T) {
	msg := Event("evt_1", OpJobDone, JobDone{Seq: 3, Line: "make", ExitCode: 2})
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	want := `{"id":"evt_1","type":"event","op":"job.done","payload":{"seq":3,"line":"make","exit_code":2,"cancelled":false,"seconds":0}}`
	if string(b) != want {
		t.Fatalf("unexpected json:\n got %s\nwant %s", b, want)
	}
}
