package message

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func strPtr(s string) *string { return &s }

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"processed", Message{IsProcessed: true, SrcDescription: SystemDHOS}, "processed"},
		{"sent", Message{SrcDescription: SystemDHOS}, "sent"},
		{"received", Message{SrcDescription: SystemTIE}, "received"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.Status(); got != tt.want {
				t.Errorf("Status() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAckStatus(t *testing.T) {
	const ack = "MSH|^~\\&|OXON_TIE_ADT|OXON|c0481|OXON|20170731141348||ACK^A01|Q548855450T599784808|P|2.3\r" +
		"MSA|AR|Q548855450T599784808"

	msg := Message{Ack: strPtr(ack)}
	if got := msg.AckStatus(); got == nil || *got != "AR" {
		t.Errorf("AckStatus() = %v, want AR", got)
	}

	if got := (&Message{}).AckStatus(); got != nil {
		t.Errorf("AckStatus() without ack = %v, want nil", got)
	}
	if got := (&Message{Ack: strPtr("not an hl7 message")}).AckStatus(); got != nil {
		t.Errorf("AckStatus() with garbage ack = %v, want nil", got)
	}
}

func TestToAPI(t *testing.T) {
	sentAt := time.Date(2017, 7, 31, 14, 13, 48, 0, time.UTC)
	msg := Message{
		ID:               uuid.MustParse("f5cb5f44-2308-4a8f-ae0f-d42e87ae1de7"),
		Content:          sampleA01,
		MessageType:      strPtr("ADT^A01"),
		SentAt:           &sentAt,
		SrcDescription:   SystemTIE,
		DstDescription:   SystemDHOS,
		MessageControlID: strPtr("Q548855450T599784808"),
		CreatedAt:        sentAt,
		UpdatedAt:        sentAt,
	}

	api := msg.ToAPI()
	if api["uuid"] != "f5cb5f44-2308-4a8f-ae0f-d42e87ae1de7" {
		t.Errorf("uuid = %v", api["uuid"])
	}
	if got := *api["sent_at"].(*string); got != "2017-07-31T14:13:48.000Z" {
		t.Errorf("sent_at = %q", got)
	}
	if api["ack_status"].(*string) != nil {
		t.Errorf("ack_status = %v, want nil", api["ack_status"])
	}
	if _, present := api["ack"]; present {
		t.Error("ack must not be rendered")
	}
	if api["message_control_id"].(*string) == nil {
		t.Error("message_control_id missing")
	}
}
