package config

import "testing"

func validConfig() Config {
	c := Config{
		Sources: []SourceConfig{
			{ID: "buys", Kind: "buy_feed", Transport: "ws", URL: "wss://example.invalid/buys"},
			{ID: "hotlist", Kind: "hotlist_feed", Transport: "poll", URL: "https://example.invalid/hotlist"},
		},
	}
	applyDefaults(&c)
	return c
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected valid config to pass, got: %v", err)
	}
}

func TestValidateRejectsNoSources(t *testing.T) {
	c := validConfig()
	c.Sources = nil
	if err := c.Validate(); err == nil {
		t.Error("expected error when no sources are configured")
	}
}

func TestValidateRejectsDuplicateSourceID(t *testing.T) {
	c := validConfig()
	c.Sources = append(c.Sources, c.Sources[0])
	if err := c.Validate(); err == nil {
		t.Error("expected error for duplicate source id")
	}
}

func TestValidateRejectsUnknownSourceKind(t *testing.T) {
	c := validConfig()
	c.Sources[0].Kind = "bogus_feed"
	if err := c.Validate(); err == nil {
		t.Error("expected error for unrecognized source kind")
	}
}

func TestValidateRejectsBadTransport(t *testing.T) {
	c := validConfig()
	c.Sources[0].Transport = "carrier_pigeon"
	if err := c.Validate(); err == nil {
		t.Error("expected error for unrecognized transport")
	}
}

func TestValidateRejectsInvertedTierBounds(t *testing.T) {
	c := validConfig()
	c.Correlator.Tier1MinMC = c.Correlator.Tier1MaxMC
	if err := c.Validate(); err == nil {
		t.Error("expected error when tier1_min_mc >= tier1_max_mc")
	}
}

func TestValidateRejectsMirrorEnabledWithoutURL(t *testing.T) {
	c := validConfig()
	c.Mirror.Enabled = true
	c.Mirror.URL = ""
	if err := c.Validate(); err == nil {
		t.Error("expected error when mirror.enabled is true with no url")
	}
}

func TestApplyDefaultsFillsCorrelatorThresholds(t *testing.T) {
	c := validConfig()
	if c.Correlator.DedupeWindow.String() != "5m0s" {
		t.Errorf("dedupe window default = %v, want 5m0s", c.Correlator.DedupeWindow)
	}
	if c.Correlator.Tier1MinMC != 40_000 || c.Correlator.Tier1MaxMC != 100_000 {
		t.Errorf("tier1 bounds = [%v,%v], want [40000,100000]", c.Correlator.Tier1MinMC, c.Correlator.Tier1MaxMC)
	}
	if c.Correlator.DynamicThresholdTriggerCount != 10 || c.Correlator.DynamicThresholdRestoreCount != 8 {
		t.Errorf("dynamic threshold trigger/restore = %d/%d, want 10/8",
			c.Correlator.DynamicThresholdTriggerCount, c.Correlator.DynamicThresholdRestoreCount)
	}
}
