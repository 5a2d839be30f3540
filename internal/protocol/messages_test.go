package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessage(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_send_text","text":"안녕하세요"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	send, ok := msg.(ClientSendText)
	if !ok {
		t.Fatalf("parsed type = %T, want ClientSendText", msg)
	}
	if send.Text != "안녕하세요" {
		t.Fatalf("Text = %q", send.Text)
	}

	if _, err := ParseClientMessage([]byte(`{"type":"client_start"}`)); err != nil {
		t.Fatalf("client_start parse error = %v", err)
	}
}

func TestParseClientMessageRejectsBlankText(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":"client_send_text","text":"   "}`)); err == nil {
		t.Fatalf("blank send_text should be rejected")
	}
}

func TestParseClientMessageUnsupportedType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"client_audio_chunk"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}
