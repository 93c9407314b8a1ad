package config

import (
	"encoding/json"

	"go.uber.org/zap/zapcore"
)

const redacted = "[REDACTED]"

// Secret holds a credential read from the environment. Every rendering path
// (fmt, JSON, zap) prints a placeholder; call Reveal to get the value.
type Secret string

func (s Secret) Reveal() string { return string(s) }

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string { return s.String() }

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// MarshalLogObject lets a Secret be passed to zap.Object without leaking.
func (s Secret) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddBool("present", s != "")
	return nil
}
