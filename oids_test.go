package pgconn

import (
	"testing"

	"github.com/lib/pq/oid"
)

func TestBinaryOidPolicyDefaultsMatchKnownBinaryCapableTypes(t *testing.T) {
	p := NewBinaryOidPolicy(NewConfig())

	if !p.UseBinaryForReceive(uint32(oid.T_int4)) {
		t.Fatalf("expected int4 to default to binary on receive")
	}
	if !p.UseBinaryForSend(uint32(oid.T_int4)) {
		t.Fatalf("expected int4 to default to binary on send")
	}
	if p.UseBinaryForReceive(uint32(oid.T_text)) {
		t.Fatalf("expected text to default to non-binary (not in the default set)")
	}
}

func TestBinaryOidPolicyEnableOverridesDefaultText(t *testing.T) {
	cfg := NewConfig()
	cfg.BinaryTransferEnable = []uint32{uint32(oid.T_text)}
	p := NewBinaryOidPolicy(cfg)

	if !p.UseBinaryForReceive(uint32(oid.T_text)) {
		t.Fatalf("expected BinaryTransferEnable to force text into the binary receive set")
	}
	if !p.UseBinaryForSend(uint32(oid.T_text)) {
		t.Fatalf("expected BinaryTransferEnable to force text into the binary send set")
	}
}

func TestBinaryOidPolicyDisableOverridesDefaultBinary(t *testing.T) {
	cfg := NewConfig()
	cfg.BinaryTransferDisable = []uint32{uint32(oid.T_int4)}
	p := NewBinaryOidPolicy(cfg)

	if p.UseBinaryForReceive(uint32(oid.T_int4)) {
		t.Fatalf("expected BinaryTransferDisable to remove int4 from the binary receive set")
	}
	if p.UseBinaryForSend(uint32(oid.T_int4)) {
		t.Fatalf("expected BinaryTransferDisable to remove int4 from the binary send set")
	}
}

func TestFormatForReflectsReceivePolicy(t *testing.T) {
	p := NewBinaryOidPolicy(NewConfig())

	if got := p.FormatFor(uint32(oid.T_int4)); got != FormatBinary {
		t.Fatalf("expected FormatBinary for int4, got %v", got)
	}
	if got := p.FormatFor(uint32(oid.T_text)); got != FormatText {
		t.Fatalf("expected FormatText for text, got %v", got)
	}
}
