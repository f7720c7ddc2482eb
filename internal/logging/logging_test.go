package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantLevel logrus.Level
		wantErr   bool
	}{
		{"defaults", Config{}, logrus.InfoLevel, false},
		{"debug text", Config{Level: "debug", Format: "text"}, logrus.DebugLevel, false},
		{"upper case", Config{Level: "WARN"}, logrus.WarnLevel, false},
		{"bad level", Config{Level: "loud"}, logrus.InfoLevel, true},
		{"bad format", Config{Format: "xml"}, logrus.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := logrus.New()
			err := apply(l, tt.cfg, &bytes.Buffer{})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLevel, l.GetLevel())
		})
	}
}

func TestApply_JSON(t *testing.T) {
	l := logrus.New()
	var buf bytes.Buffer
	require.NoError(t, apply(l, Config{Format: "json"}, &buf))

	l.WithField("component", "capture").Info("frame captured")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "capture", entry["component"])
	assert.Equal(t, "frame captured", entry["msg"])
}
