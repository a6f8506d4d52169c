package iec61850

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseRef(t *testing.T) {
	cases := []struct {
		raw        string
		defDomain  string
		wantDomain string
		wantItem   string
		wantErr    bool
	}{
		{"MMXU1$MX$TotW$mag$f", "LD0", "LD0", "MMXU1$MX$TotW$mag$f", false},
		{"PV1/MMXU1$MX$TotW$mag$f", "LD0", "PV1", "MMXU1$MX$TotW$mag$f", false},
		{"LLN0$DC$NamPlt$vendor", "INVD", "INVD", "LLN0$DC$NamPlt$vendor", false},
		{" LD0 / MMXU1$MX$TotW$mag$f ", "X", "LD0", "MMXU1$MX$TotW$mag$f", false},
		{"TotW", "LD0", "", "", true},
		{"", "LD0", "", "", true},
		{"MMXU1$MX$TotW$mag$f", "", "", "", true},
		{"/MMXU1$MX$TotW", "LD0", "", "", true},
	}
	for _, tc := range cases {
		ref, err := ParseRef(tc.raw, tc.defDomain)
		if tc.wantErr {
			if !errors.Is(err, ErrBadReference) {
				t.Fatalf("ParseRef(%q, %q) err = %v, want ErrBadReference", tc.raw, tc.defDomain, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseRef(%q, %q): %v", tc.raw, tc.defDomain, err)
		}
		if ref.Domain != tc.wantDomain || ref.Item != tc.wantItem {
			t.Fatalf("ParseRef(%q, %q) = %v", tc.raw, tc.defDomain, ref)
		}
	}
}

func TestObjectRefString(t *testing.T) {
	ref := ObjectRef{Domain: "LD0", Item: "MMXU1$MX$TotW$mag$f"}
	if got := ref.String(); got != "LD0/MMXU1$MX$TotW$mag$f" {
		t.Fatalf("String() = %q", got)
	}
}

func TestNewSelectsBinding(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Binding = BindingLoopback
	dev, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new loopback: %v", err)
	}
	if _, ok := dev.(*Loopback); !ok {
		t.Fatalf("binding %q built %T", cfg.Binding, dev)
	}

	cfg.Binding = BindingMMS
	dev, err = New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new mms: %v", err)
	}
	if _, ok := dev.(*MMSClient); !ok {
		t.Fatalf("binding %q built %T", cfg.Binding, dev)
	}

	cfg.Binding = "goose"
	if _, err := New(cfg, zerolog.Nop()); !errors.Is(err, ErrUnknownBinding) {
		t.Fatalf("unknown binding err = %v", err)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	var cfg Config
	cfg = cfg.WithDefaults()
	if cfg.Binding != BindingMMS {
		t.Fatalf("default binding %q", cfg.Binding)
	}
	if cfg.Address == "" || cfg.LogicalDevice == "" || cfg.HealthObject == "" {
		t.Fatalf("unfilled defaults: %+v", cfg)
	}
	if cfg.ConnectTimeout <= 0 || cfg.RequestTimeout <= 0 {
		t.Fatalf("unfilled timeouts: %+v", cfg)
	}

	cfg = Config{Binding: BindingLoopback, ConnectTimeout: time.Second}
	cfg = cfg.WithDefaults()
	if cfg.Binding != BindingLoopback || cfg.ConnectTimeout != time.Second {
		t.Fatalf("explicit values overwritten: %+v", cfg)
	}
}
