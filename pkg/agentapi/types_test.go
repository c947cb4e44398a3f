package agentapi

import (
	"strings"
	"testing"
)

func TestValidateClientName(t *testing.T) {
	valid := []string{"alice", "bob-laptop", "user_01", "A", strings.Repeat("x", 64)}
	for _, name := range valid {
		if err := ValidateClientName(name); err != nil {
			t.Errorf("name %q should be valid: %v", name, err)
		}
	}

	invalid := []string{"", " ", "two words", "semi;colon", "pipe|char", "dot.name",
		"slash/name", "über", "$(reboot)", strings.Repeat("x", 65)}
	for _, name := range invalid {
		if err := ValidateClientName(name); err == nil {
			t.Errorf("name %q should be rejected", name)
		}
	}
}

func TestResultRoundTrip(t *testing.T) {
	res := Success("done", `{"clients":[]}`)

	data, err := res.Encode()
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := DecodeResult(data)
	if err != nil {
		t.Fatal(err)
	}
	if !decoded.OK() {
		t.Error("decoded result should be successful")
	}
	if decoded.Message != "done" || decoded.Output != `{"clients":[]}` {
		t.Errorf("round-trip mismatch: %+v", decoded)
	}
	if decoded.Progress != 100 {
		t.Errorf("success should carry progress 100, got %d", decoded.Progress)
	}
}

func TestDecodeResultRejectsGarbage(t *testing.T) {
	if _, err := DecodeResult([]byte("not json at all")); err == nil {
		t.Error("expected error for non-JSON input")
	}
	if _, err := DecodeResult([]byte(`{"status":"maybe","message":"hm"}`)); err == nil {
		t.Error("expected error for unknown status value")
	}
	if _, err := DecodeResult([]byte(`{"message":"missing status"}`)); err == nil {
		t.Error("expected error for missing status")
	}
}

func TestFailureCarriesProgress(t *testing.T) {
	res := Failure("broke", "detail", 42)
	if res.OK() {
		t.Error("failure must not be OK")
	}
	if res.Progress != 42 {
		t.Errorf("expected progress 42, got %d", res.Progress)
	}
	if res.Error != "detail" {
		t.Errorf("expected error detail, got %q", res.Error)
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Port = 0 }},
		{"port too high", func(c *Config) { c.Port = 70000 }},
		{"bad protocol", func(c *Config) { c.Protocol = "sctp" }},
		{"missing subnet", func(c *Config) { c.Subnet = "" }},
		{"stunnel without port", func(c *Config) { c.UseStunnel = true; c.StunnelPort = 0 }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
