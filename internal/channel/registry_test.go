package channel

import (
	"context"
	"io"
	"testing"
)

type stubAdapter struct {
	channelType Type
}

func (s *stubAdapter) Type() Type { return s.channelType }
func (s *stubAdapter) VerifyWebhook(mode, token, challenge string) (string, bool) {
	return "", false
}
func (s *stubAdapter) VerifySignature(body []byte, signatureHeader string) bool { return true }
func (s *stubAdapter) ParseInbound(body []byte) ([]InboundMessage, error)       { return nil, nil }
func (s *stubAdapter) Send(ctx context.Context, to, text string) error          { return nil }
func (s *stubAdapter) DownloadMedia(ctx context.Context, ref MediaRef) (io.ReadCloser, MediaRef, error) {
	return nil, ref, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	adapter := &stubAdapter{channelType: TypeWhatsApp}
	if err := r.Register(adapter); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, ok := r.Get(TypeWhatsApp)
	if !ok || got != adapter {
		t.Fatal("expected registered adapter")
	}

	// Lookup is case-insensitive.
	if _, ok := r.Get(Type("WhatsApp")); !ok {
		t.Error("expected case-insensitive lookup")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&stubAdapter{channelType: TypeWhatsApp}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&stubAdapter{channelType: TypeWhatsApp}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestRegistryRejectsNilAndEmpty(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(nil); err == nil {
		t.Error("expected error for nil adapter")
	}
	if err := r.Register(&stubAdapter{channelType: ""}); err == nil {
		t.Error("expected error for empty channel type")
	}
}
