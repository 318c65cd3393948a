package protocol

import (
	"testing"

	"github.com/parkbeat/relay/internal/domain/event"
)

func TestDecodeObjectFrame(t *testing.T) {
	raw := []byte(`{"event":"subscribe","data":{"geohash":"dr5r","shouldSubscribe":true}}`)
	ce, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if ce.Kind != event.KindSubscribe || ce.Subscribe == nil || ce.Subscribe.Geohash != "dr5r" {
		t.Fatalf("unexpected decode result: %+v", ce)
	}
}

func TestDecodeArrayFrame(t *testing.T) {
	raw := []byte(`["ping", null]`)
	ce, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if ce.Kind != event.KindPing {
		t.Fatalf("expected ping kind, got %v", ce.Kind)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	raw := []byte(`{"event":"bogus","data":{}}`)
	_, err := Decode(raw)
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
	var unknown *ErrUnknownKind
	if !asUnknown(err, &unknown) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func asUnknown(err error, target **ErrUnknownKind) bool {
	if e, ok := err.(*ErrUnknownKind); ok {
		*target = e
		return true
	}
	return false
}

func TestEncodeRoundTrip(t *testing.T) {
	raw, err := Encode(event.KindPong, struct{}{})
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) == 0 {
		t.Fatal("expected non-empty encoded frame")
	}
}
