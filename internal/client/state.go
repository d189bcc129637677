package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	mux "github.com/cbeuw/tangle/internal/multiplex"
	"github.com/cbeuw/tangle/internal/resolve"
	"github.com/cbeuw/tangle/internal/transport"
	log "github.com/sirupsen/logrus"
)

// RawConfig represents the fields in the config file, either JSON or TOML.
// nullable means if it's empty, a default value will be chosen in ProcessRawConfig
// jsonOptional means if the file leaves it empty, its value will be set from commandline args
// but it mustn't be empty when ProcessRawConfig is called
type RawConfig struct {
	Transport          string `toml:"transport"`            // nullable
	PSK                string `toml:"psk"`                  // nullable
	ServerName         string `toml:"server_name"`          // nullable
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"` // nullable
	WebSocketPath      string `toml:"websocket_path"`       // nullable
	NameServer         string `toml:"name_server"`          // nullable
	LocalHost          string `toml:"local_host"`           // jsonOptional
	LocalPort          string `toml:"local_port"`           // jsonOptional
	RemoteHost         string `toml:"remote_host"`          // jsonOptional
	RemotePort         string `toml:"remote_port"`          // jsonOptional

	// defaults set in ProcessRawConfig
	StreamTimeout     string `toml:"stream_timeout"`      // nullable
	KeepAlive         string `toml:"keepalive"`           // nullable
	InitialWindowSize uint32 `toml:"initial_window_size"` // nullable
	MaxFrameSize      uint32 `toml:"max_frame_size"`      // nullable
	Reconnect         struct {
		InitialDelay string  `toml:"initial_delay"`
		Multiplier   float64 `toml:"multiplier"`
		MaxDelay     string  `toml:"max_delay"`
	} `toml:"reconnect"`
	// used to find the server over multicast DNS when RemoteHost is empty
	Discover struct {
		Service  string `toml:"service"`
		Interval string `toml:"interval"`
		Group    string `toml:"group"`
	} `toml:"discover"`
}

type RemoteConnConfig struct {
	// RemoteAddr is empty when the server is found through Discover
	RemoteAddr string
	Discover   *DiscoverConfig
	Transport  transport.Transport
	Session    mux.SessionConfig
	Backoff    BackoffConfig
}

type DiscoverConfig struct {
	Service  string
	Interval time.Duration
	Group    *net.UDPAddr
}

type LocalConnConfig struct {
	LocalAddr string
	Timeout   time.Duration
}

var errEmptyConfig = errors.New("empty config")

// semi-colon separated value, for passing options through a single environment variable
func ssvToJson(ssv string) (ret []byte) {
	elem := func(val string, lst []string) bool {
		for _, v := range lst {
			if val == v {
				return true
			}
		}
		return false
	}
	unescape := func(s string) string {
		r := strings.Replace(s, `\\`, `\`, -1)
		r = strings.Replace(r, `\=`, `=`, -1)
		r = strings.Replace(r, `\;`, `;`, -1)
		return r
	}
	unquoted := []string{"InsecureSkipVerify", "InitialWindowSize", "MaxFrameSize"}
	lines := strings.Split(unescape(ssv), ";")
	ret = []byte("{")
	for _, ln := range lines {
		if ln == "" {
			break
		}
		sp := strings.SplitN(ln, "=", 2)
		if len(sp) < 2 {
			log.Errorf("Malformed config option: %v", ln)
			continue
		}
		key := sp[0]
		value := sp[1]
		// JSON doesn't like quotation marks around int and bool
		if elem(key, unquoted) {
			ret = append(ret, []byte(`"`+key+`":`+value+`,`)...)
		} else {
			ret = append(ret, []byte(`"`+key+`":"`+value+`",`)...)
		}
	}
	ret = ret[:len(ret)-1] // remove the last comma
	ret = append(ret, '}')
	return ret
}

// ParseConfig takes a path to a .json or .toml file, the content of one, or semicolon separated
// key=value options
func ParseConfig(conf string) (raw *RawConfig, err error) {
	if conf == "" {
		return nil, errEmptyConfig
	}
	content := []byte(conf)
	isTOML := !strings.HasPrefix(strings.TrimSpace(conf), "{")
	if strings.Contains(conf, ";") && strings.Contains(conf, "=") && !strings.Contains(conf, "\n") {
		content = ssvToJson(conf)
		isTOML = false
	} else if fileContent, readErr := os.ReadFile(conf); readErr == nil {
		content = fileContent
		isTOML = strings.HasSuffix(conf, ".toml")
	}

	raw = new(RawConfig)
	if isTOML {
		_, err = toml.Decode(string(content), raw)
	} else {
		err = json.Unmarshal(content, raw)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return raw, nil
}

func parseDuration(field string, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %v: %w", field, err)
	}
	return d, nil
}

func (raw *RawConfig) ProcessRawConfig() (local LocalConnConfig, remote RemoteConnConfig, err error) {
	nullErr := func(field string) (local LocalConnConfig, remote RemoteConnConfig, err error) {
		err = fmt.Errorf("%v cannot be empty", field)
		return
	}

	switch {
	case raw.RemoteHost != "":
		if raw.RemotePort == "" {
			return nullErr("RemotePort")
		}
		remote.RemoteAddr = net.JoinHostPort(raw.RemoteHost, raw.RemotePort)
	case raw.Discover.Service != "":
		remote.Discover = &DiscoverConfig{Service: raw.Discover.Service}
		remote.Discover.Interval, err = parseDuration("Discover.Interval", raw.Discover.Interval, resolve.DefaultDiscoverInterval)
		if err != nil {
			return
		}
		if raw.Discover.Group != "" {
			remote.Discover.Group, err = net.ResolveUDPAddr("udp", raw.Discover.Group)
			if err != nil {
				err = fmt.Errorf("parse Discover.Group: %w", err)
				return
			}
		}
	default:
		return nullErr("RemoteHost")
	}

	transportConfig := transport.Config{
		Kind:               strings.ToLower(raw.Transport),
		PSK:                []byte(raw.PSK),
		ServerName:         raw.ServerName,
		InsecureSkipVerify: raw.InsecureSkipVerify,
		WebSocketPath:      raw.WebSocketPath,
	}
	if raw.NameServer != "" {
		var resolver *resolve.Resolver
		resolver, err = resolve.New(raw.NameServer)
		if err != nil {
			return
		}
		transportConfig.Resolver = resolver
	}
	remote.Transport, err = transport.New(transportConfig)
	if err != nil {
		return
	}

	var keepAlive time.Duration
	keepAlive, err = parseDuration("KeepAlive", raw.KeepAlive, 0)
	if err != nil {
		return
	}
	remote.Session = mux.SessionConfig{
		Role:              mux.RoleInitiator,
		InitialWindowSize: raw.InitialWindowSize,
		MaxFrameSize:      int(raw.MaxFrameSize),
		KeepAliveInterval: keepAlive,
	}

	remote.Backoff = DefaultBackoffConfig()
	remote.Backoff.InitialDelay, err = parseDuration("Reconnect.InitialDelay", raw.Reconnect.InitialDelay, remote.Backoff.InitialDelay)
	if err != nil {
		return
	}
	remote.Backoff.MaxDelay, err = parseDuration("Reconnect.MaxDelay", raw.Reconnect.MaxDelay, remote.Backoff.MaxDelay)
	if err != nil {
		return
	}
	if raw.Reconnect.Multiplier != 0 {
		if raw.Reconnect.Multiplier < 1 {
			err = fmt.Errorf("Reconnect.Multiplier must be at least 1, got %v", raw.Reconnect.Multiplier)
			return
		}
		remote.Backoff.Multiplier = raw.Reconnect.Multiplier
	}

	if raw.LocalHost == "" {
		return nullErr("LocalHost")
	}
	if raw.LocalPort == "" {
		return nullErr("LocalPort")
	}
	local.LocalAddr = net.JoinHostPort(raw.LocalHost, raw.LocalPort)
	// stream idle timeout
	local.Timeout, err = parseDuration("StreamTimeout", raw.StreamTimeout, 300*time.Second)
	if err != nil {
		return
	}
	return
}
