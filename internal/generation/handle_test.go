package generation

import (
	"errors"
	"strings"
	"testing"

	"moltpfp/internal/domain"
)

func TestHandleRoundTripSync(t *testing.T) {
	res := domain.Succeeded("https://dashscope-result.example/a/b.png?Expires=1&Signature=x+y/z")
	token, err := EncodeHandle(domain.JobHandle{Provider: "qwen", Kind: domain.ProviderKindSync, Result: &res})
	if err != nil {
		t.Fatalf("EncodeHandle error: %v", err)
	}
	if !strings.HasPrefix(token, "sync_") {
		t.Fatalf("token = %q, want sync_ prefix", token)
	}
	if strings.ContainsAny(token, "/+=?&") {
		t.Fatalf("token %q is not URL safe", token)
	}

	decoded, err := DecodeHandle(token)
	if err != nil {
		t.Fatalf("DecodeHandle error: %v", err)
	}
	if !decoded.Resolved() || decoded.Result.ImageURL != res.ImageURL {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestHandleRoundTripAsync(t *testing.T) {
	token, err := EncodeHandle(domain.JobHandle{Provider: "replicate", ID: "x7k2_q9", Kind: domain.ProviderKindAsync})
	if err != nil {
		t.Fatalf("EncodeHandle error: %v", err)
	}
	if token != "replicate_x7k2_q9" {
		t.Fatalf("token = %q", token)
	}
	decoded, err := DecodeHandle(token)
	if err != nil {
		t.Fatalf("DecodeHandle error: %v", err)
	}
	if decoded.Provider != "replicate" || decoded.ID != "x7k2_q9" || decoded.Resolved() {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestEncodeHandleRejectsIncompleteHandles(t *testing.T) {
	cases := []domain.JobHandle{
		{Provider: "qwen", Kind: domain.ProviderKindSync},
		{Provider: "replicate", Kind: domain.ProviderKindAsync},
		{Provider: "my_provider", ID: "1", Kind: domain.ProviderKindAsync},
	}
	for _, h := range cases {
		if _, err := EncodeHandle(h); !errors.Is(err, ErrInvalidHandle) {
			t.Fatalf("EncodeHandle(%+v) error = %v, want ErrInvalidHandle", h, err)
		}
	}
}

func TestDecodeHandleRejectsGarbage(t *testing.T) {
	for _, token := range []string{"", "replicate", "_abc", "replicate_", "sync_", "sync_***"} {
		if _, err := DecodeHandle(token); !errors.Is(err, ErrInvalidHandle) {
			t.Fatalf("DecodeHandle(%q) error = %v, want ErrInvalidHandle", token, err)
		}
	}
}
