// Package config loads settings for the airshare binaries. Values come from
// a TOML file, then AIRSHARE_* environment variables, then command-line
// flags, each overriding the one before.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/junsooki/airshare/internal/logging"
)

// EnvPrefix is prepended to every env tag.
const EnvPrefix = "AIRSHARE_"

// Capture sources.
const (
	SourceScreen  = "screen"
	SourcePattern = "pattern"
)

// DefaultSignalingURL is where host and viewer look for the relay.
const DefaultSignalingURL = "ws://localhost:8080/ws"

// Host configures the host binary.
type Host struct {
	Config string

	SignalingURL      string   `toml:"signaling.url" env:"SIGNALING_URL"`
	HostID            string   `toml:"host.id" env:"HOST_ID"`
	Source            string   `toml:"capture.source" env:"SOURCE"`
	DisplayIndex      int      `toml:"capture.display" env:"DISPLAY_INDEX"`
	PatternWidth      int      `toml:"capture.pattern_width" env:"PATTERN_WIDTH"`
	PatternHeight     int      `toml:"capture.pattern_height" env:"PATTERN_HEIGHT"`
	CaptureIntervalMs int      `toml:"capture.interval_ms" env:"CAPTURE_INTERVAL_MS"`
	QueueLen          int      `toml:"pipeline.queue_len" env:"QUEUE_LEN"`
	DiffThreshold     int      `toml:"pipeline.diff_threshold" env:"DIFF_THRESHOLD"`
	ICEServers        []string `toml:"webrtc.ice_servers" env:"ICE_SERVERS"`
	MetricsAddr       string   `toml:"metrics.addr" env:"METRICS_ADDR"`
	LoggingLevel      string   `toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat     string   `toml:"logging.format" env:"LOGGING_FORMAT"`
}

// Viewer configures the viewer binary.
type Viewer struct {
	Config string

	SignalingURL  string   `toml:"signaling.url" env:"SIGNALING_URL"`
	ViewerID      string   `toml:"viewer.id" env:"VIEWER_ID"`
	HostID        string   `toml:"viewer.host" env:"HOST_ID"`
	ICEServers    []string `toml:"webrtc.ice_servers" env:"ICE_SERVERS"`
	LoggingLevel  string   `toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string   `toml:"logging.format" env:"LOGGING_FORMAT"`
}

// Signal configures the signaling relay.
type Signal struct {
	Config string

	Addr          string `toml:"server.addr" env:"ADDR"`
	MetricsAddr   string `toml:"metrics.addr" env:"METRICS_ADDR"`
	LoggingLevel  string `toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `toml:"logging.format" env:"LOGGING_FORMAT"`
}

// BindHostFlags registers the host flags on cmd with their defaults.
func BindHostFlags(cmd *cobra.Command, c *Host) {
	f := cmd.Flags()
	bindCommon(f, &c.Config, &c.LoggingLevel, &c.LoggingFormat)
	f.StringVar(&c.SignalingURL, "signaling-url", DefaultSignalingURL, "Signaling server WebSocket URL")
	f.StringVar(&c.HostID, "host-id", "", "Host ID (generated if empty)")
	f.StringVar(&c.Source, "source", SourceScreen, "Capture source: screen or pattern")
	f.IntVar(&c.DisplayIndex, "display-index", 0, "Display index to capture (0 = primary)")
	f.IntVar(&c.PatternWidth, "pattern-width", 1280, "Width of the test pattern source")
	f.IntVar(&c.PatternHeight, "pattern-height", 720, "Height of the test pattern source")
	f.IntVar(&c.CaptureIntervalMs, "capture-interval-ms", 150, "Pause after each capture in milliseconds")
	f.IntVar(&c.QueueLen, "queue-len", 20, "Capacity of the capture and payload queues")
	f.IntVar(&c.DiffThreshold, "diff-threshold", 500, "Changed pixels above which a full frame is sent")
	f.StringSliceVar(&c.ICEServers, "ice-servers", defaultICEServers(), "STUN/TURN server URLs")
	f.StringVar(&c.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (empty = off)")
}

// BindViewerFlags registers the viewer flags on cmd with their defaults.
func BindViewerFlags(cmd *cobra.Command, c *Viewer) {
	f := cmd.Flags()
	bindCommon(f, &c.Config, &c.LoggingLevel, &c.LoggingFormat)
	f.StringVar(&c.SignalingURL, "signaling-url", DefaultSignalingURL, "Signaling server WebSocket URL")
	f.StringVar(&c.ViewerID, "viewer-id", "", "Viewer ID (generated if empty)")
	f.StringVar(&c.HostID, "host-id", "", "Host ID to connect to")
	f.StringSliceVar(&c.ICEServers, "ice-servers", defaultICEServers(), "STUN/TURN server URLs")
}

// BindSignalFlags registers the relay flags on cmd with their defaults.
func BindSignalFlags(cmd *cobra.Command, c *Signal) {
	f := cmd.Flags()
	bindCommon(f, &c.Config, &c.LoggingLevel, &c.LoggingFormat)
	f.StringVar(&c.Addr, "addr", ":8080", "Listen address")
	f.StringVar(&c.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (empty = off)")
}

func bindCommon(f *pflag.FlagSet, path, level, format *string) {
	f.StringVarP(path, "config", "c", "", "TOML config file")
	f.StringVar(level, "logging-level", "info", "Log level (debug, info, warn, error)")
	f.StringVar(format, "logging-format", "text", "Log format (text or json)")
}

func defaultICEServers() []string {
	return []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}
}

// Logging returns the logging settings.
func (c *Host) Logging() logging.Config {
	return logging.Config{Level: c.LoggingLevel, Format: c.LoggingFormat}
}

// Logging returns the logging settings.
func (c *Viewer) Logging() logging.Config {
	return logging.Config{Level: c.LoggingLevel, Format: c.LoggingFormat}
}

// Logging returns the logging settings.
func (c *Signal) Logging() logging.Config {
	return logging.Config{Level: c.LoggingLevel, Format: c.LoggingFormat}
}

// Validate fills generated defaults and checks ranges.
func (c *Host) Validate() error {
	if c.HostID == "" {
		c.HostID = "host-" + uuid.NewString()[:8]
	}
	var errs []error
	if c.SignalingURL == "" {
		errs = append(errs, errors.New("signaling-url is required"))
	}
	if c.Source != SourceScreen && c.Source != SourcePattern {
		errs = append(errs, fmt.Errorf("source %q: want %s or %s", c.Source, SourceScreen, SourcePattern))
	}
	if c.Source == SourcePattern && (c.PatternWidth <= 0 || c.PatternHeight <= 0) {
		errs = append(errs, fmt.Errorf("pattern size %dx%d must be positive", c.PatternWidth, c.PatternHeight))
	}
	if c.CaptureIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("capture-interval-ms %d must be positive", c.CaptureIntervalMs))
	}
	if c.QueueLen < 2 {
		errs = append(errs, fmt.Errorf("queue-len %d must be at least 2", c.QueueLen))
	}
	if c.DiffThreshold < 0 {
		errs = append(errs, fmt.Errorf("diff-threshold %d must not be negative", c.DiffThreshold))
	}
	return errors.Join(errs...)
}

// Validate fills generated defaults and checks required values.
func (c *Viewer) Validate() error {
	if c.ViewerID == "" {
		c.ViewerID = "viewer-" + uuid.NewString()[:8]
	}
	if c.SignalingURL == "" {
		return errors.New("signaling-url is required")
	}
	return nil
}

// Load applies the TOML file named by the Config field, then environment
// variables, to opts (a pointer to a tagged struct). Fields whose flag was
// set on the command line are left alone. cmd may be nil.
func Load(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	changed := make(map[string]bool)
	if cmd != nil {
		cmd.Flags().Visit(func(f *pflag.Flag) {
			changed[f.Name] = true
		})
	}

	if path := v.FieldByName("Config"); path.IsValid() && path.String() != "" {
		data, err := os.ReadFile(path.String())
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		var file map[string]any
		if err := toml.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("parse config %s: %w", path.String(), err)
		}
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			key := field.Tag.Get("toml")
			if key == "" || changed[flagName(field.Name)] {
				continue
			}
			if value := lookup(file, key); value != nil {
				if err := setValue(v.Field(i), value); err != nil {
					return fmt.Errorf("config %s: %w", key, err)
				}
			}
		}
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := field.Tag.Get("env")
		if key == "" || changed[flagName(field.Name)] {
			continue
		}
		if s, ok := os.LookupEnv(EnvPrefix + key); ok && s != "" {
			if err := setString(v.Field(i), s); err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
		}
	}
	return nil
}

// flagName converts a field name to its flag: "CaptureIntervalMs" becomes
// "capture-interval-ms" and "ICEServers" becomes "ice-servers".
func flagName(field string) string {
	rs := []rune(field)
	var b strings.Builder
	for i, r := range rs {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(rs[i-1])
			nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
			if prevLower || (unicode.IsUpper(rs[i-1]) && nextLower) {
				b.WriteRune('-')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// lookup resolves a dotted key in a decoded TOML document.
func lookup(doc map[string]any, key string) any {
	parts := strings.Split(key, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur[parts[len(parts)-1]]
}

func setValue(field reflect.Value, value any) error {
	switch field.Kind() {
	case reflect.String:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("want string, got %T", value)
		}
		field.SetString(s)
	case reflect.Int:
		n, ok := value.(int64)
		if !ok {
			return fmt.Errorf("want integer, got %T", value)
		}
		field.SetInt(n)
	case reflect.Bool:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("want bool, got %T", value)
		}
		field.SetBool(b)
	case reflect.Slice:
		arr, ok := value.([]any)
		if !ok {
			return fmt.Errorf("want array, got %T", value)
		}
		out := make([]string, 0, len(arr))
		for _, e := range arr {
			s, ok := e.(string)
			if !ok {
				return fmt.Errorf("want string array element, got %T", e)
			}
			out = append(out, s)
		}
		field.Set(reflect.ValueOf(out))
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

func setString(field reflect.Value, s string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(s)
	case reflect.Int:
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		field.SetInt(int64(n))
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		field.Set(reflect.ValueOf(out))
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}
