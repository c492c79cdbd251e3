package main

import (
	"testing"
	"time"
)

func baseConfig() *appConfig {
	return &appConfig{
		uartDev:      "/dev/null",
		uartDriver:   "bugst",
		baud:         115200,
		uartReadTO:   50 * time.Millisecond,
		hostDev:      "/dev/ttyGS0",
		hostWriteBuf: 4096,
		hostChunk:    64,
		relayBuffer:  2048,
		pushTimeout:  10 * time.Millisecond,
		popWait:      100 * time.Millisecond,
		bootPin:      "GPIO23",
		rstPin:       "GPIO24",
		debounce:     10 * time.Millisecond,
		logFormat:    "text",
		logLevel:     "info",
	}
}

func TestConfigValidate_OK(t *testing.T) {
	if err := baseConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badDriver", func(c *appConfig) { c.uartDriver = "x" }},
		{"badBaud", func(c *appConfig) { c.baud = 0 }},
		{"badReadTO", func(c *appConfig) { c.uartReadTO = 0 }},
		{"badWriteBuf", func(c *appConfig) { c.hostWriteBuf = 0 }},
		{"badHostChunk", func(c *appConfig) { c.hostChunk = 0 }},
		{"bufferBelowChunk", func(c *appConfig) { c.relayBuffer = 32 }},
		{"badPushTimeout", func(c *appConfig) { c.pushTimeout = 0 }},
		{"badPopWait", func(c *appConfig) { c.popWait = 0 }},
		{"emptyBootPin", func(c *appConfig) { c.bootPin = "" }},
		{"emptyRstPin", func(c *appConfig) { c.rstPin = "" }},
		{"badDebounce", func(c *appConfig) { c.debounce = 0 }},
	}
	for _, tc := range tests {
		base := baseConfig()
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
