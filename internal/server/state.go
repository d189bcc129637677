package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cbeuw/tangle/internal/common"
	mux "github.com/cbeuw/tangle/internal/multiplex"
	"github.com/cbeuw/tangle/internal/transport"
)

type rawConfig struct {
	BindAddr          []string `toml:"bind_addr"`
	AdminAddr         string   `toml:"admin_addr"`
	Transport         string   `toml:"transport"`
	PSK               string   `toml:"psk"`
	ServerName        string   `toml:"server_name"`
	CertFile          string   `toml:"cert_file"`
	KeyFile           string   `toml:"key_file"`
	WebSocketPath     string   `toml:"websocket_path"`
	Upstream          string   `toml:"upstream"`
	DatabasePath      string   `toml:"database_path"`
	StreamTimeout     string   `toml:"stream_timeout"`
	KeepAlive         string   `toml:"keepalive"`
	InitialWindowSize uint32   `toml:"initial_window_size"`
	MaxFrameSize      uint32   `toml:"max_frame_size"`
	AcceptQueue       int      `toml:"accept_queue"`
	SessionRxRate     int64    `toml:"session_rx_rate"`
	SessionTxRate     int64    `toml:"session_tx_rate"`
	CloseDrainTimeout string   `toml:"close_drain_timeout"`
}

// State type stores the state of a running server
type State struct {
	BindAddr  []string
	AdminAddr string
	Transport transport.Transport

	// Upstream is where accepted streams are proxied to. Streams are echoed back if empty.
	Upstream       string
	UpstreamDialer common.Dialer
	Timeout        time.Duration

	SessionConfig mux.SessionConfig
	rxRate        int64
	txRate        int64

	WorldState common.WorldState

	sessionsM     sync.RWMutex
	sessionsGone  *sync.Cond
	sessions      map[uint32]*liveSession
	nextSessionID uint32
	draining      bool
	endedRx       int64
	endedTx       int64

	Usage   *UsageStore
	metrics *metrics
	Router  *APIRouter
}

var errEmptyConfig = errors.New("empty config")

// ParseConfig takes a path to a .json or .toml file, or the content of one
func ParseConfig(conf string) (raw *rawConfig, err error) {
	if conf == "" {
		return nil, errEmptyConfig
	}
	content := []byte(conf)
	isTOML := !strings.HasPrefix(strings.TrimSpace(conf), "{")
	if fileContent, readErr := os.ReadFile(conf); readErr == nil {
		content = fileContent
		isTOML = strings.HasSuffix(conf, ".toml")
	}

	raw = new(rawConfig)
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

func rateOrUnlimited(rate int64) int64 {
	if rate <= 0 {
		return math.MaxInt64
	}
	return rate
}

func InitState(raw rawConfig, worldState common.WorldState) (sta *State, err error) {
	sta = &State{
		BindAddr:       raw.BindAddr,
		AdminAddr:      raw.AdminAddr,
		Upstream:       raw.Upstream,
		UpstreamDialer: &net.Dialer{Timeout: 10 * time.Second},
		WorldState:     worldState,
		sessions:       make(map[uint32]*liveSession),
		rxRate:         rateOrUnlimited(raw.SessionRxRate),
		txRate:         rateOrUnlimited(raw.SessionTxRate),
	}
	sta.sessionsGone = sync.NewCond(&sta.sessionsM)
	for _, addr := range raw.BindAddr {
		if _, _, err = net.SplitHostPort(addr); err != nil {
			return nil, fmt.Errorf("unable to parse BindAddr: %w", err)
		}
	}

	sta.Transport, err = transport.New(transport.Config{
		Kind:          strings.ToLower(raw.Transport),
		PSK:           []byte(raw.PSK),
		ServerName:    raw.ServerName,
		CertFile:      raw.CertFile,
		KeyFile:       raw.KeyFile,
		WebSocketPath: raw.WebSocketPath,
	})
	if err != nil {
		return nil, err
	}

	sta.Timeout, err = parseDuration("StreamTimeout", raw.StreamTimeout, 300*time.Second)
	if err != nil {
		return nil, err
	}
	keepAlive, err := parseDuration("KeepAlive", raw.KeepAlive, 0)
	if err != nil {
		return nil, err
	}
	drain, err := parseDuration("CloseDrainTimeout", raw.CloseDrainTimeout, 0)
	if err != nil {
		return nil, err
	}
	sta.SessionConfig = mux.SessionConfig{
		Role:                mux.RoleAcceptor,
		InitialWindowSize:   raw.InitialWindowSize,
		MaxFrameSize:        int(raw.MaxFrameSize),
		AcceptQueueCapacity: raw.AcceptQueue,
		KeepAliveInterval:   keepAlive,
		CloseDrainTimeout:   drain,
	}

	if raw.DatabasePath != "" {
		sta.Usage, err = MakeUsageStore(raw.DatabasePath, worldState)
		if err != nil {
			return nil, fmt.Errorf("failed to open usage database: %w", err)
		}
	}
	sta.metrics = newMetrics(sta)
	sta.Router = APIRouterOf(sta)
	return sta, nil
}
