package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP struct {
		Bind string `yaml:"bind"`
		Port int    `yaml:"port"`
		TLS  struct {
			Enabled bool   `yaml:"enabled"`
			Cert    string `yaml:"cert"`
			Key     string `yaml:"key"`
		} `yaml:"tls"`
		CORS struct {
			AllowedOrigins []string `yaml:"allowed_origins"`
		} `yaml:"cors"`
	} `yaml:"http"`
	WebSocket WebSocket `yaml:"websocket"`
	UI        struct {
		Dir          string `yaml:"dir"` // empty: embedded bundle
		DefaultAsset string `yaml:"default_asset"`
	} `yaml:"ui"`
	Captive Captive `yaml:"captive"`
	Logging struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"logging"`
	Devices  Devices `yaml:"devices"`
	Watchdog struct {
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"watchdog"`
	MQTT MQTT `yaml:"mqtt"`
	MDNS struct {
		Enabled  bool   `yaml:"enabled"`
		Instance string `yaml:"instance"`
	} `yaml:"mdns"`
}

type WebSocket struct {
	MaxMessageSize int           `yaml:"max_message_size"`
	SendBuffer     int           `yaml:"send_buffer"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
}

type Captive struct {
	Enabled     bool   `yaml:"enabled"`
	Page        string `yaml:"page"`
	APInterface string `yaml:"ap_interface"`
	APAddress   string `yaml:"ap_address"` // static override of the interface lookup
}

type Devices struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	InitAttempts    int           `yaml:"init_attempts"`
	InitBackoff     time.Duration `yaml:"init_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	MaxPollFailures int           `yaml:"max_poll_failures"`
	SDCard          SDCard        `yaml:"sdcard"`
	Sensors         []Sensor      `yaml:"sensors"`
}

type SDCard struct {
	Enabled   bool          `yaml:"enabled"`
	Name      string        `yaml:"name"`
	Chip      string        `yaml:"chip"`
	Pin       int           `yaml:"pin"`
	ActiveLow bool          `yaml:"active_low"`
	PullUp    bool          `yaml:"pull_up"`
	Source    string        `yaml:"source"`
	Target    string        `yaml:"target"`
	FSType    string        `yaml:"fstype"`
	Settle    time.Duration `yaml:"settle"`
}

type Sensor struct {
	Name      string  `yaml:"name"`
	IIORoot   string  `yaml:"iio_root"` // empty: /sys/bus/iio/devices
	IIODevice int     `yaml:"iio_device"`
	Channel   int     `yaml:"channel"`
	Samples   int     `yaml:"samples"`
	Scale     float64 `yaml:"scale"`
	Offset    float64 `yaml:"offset"`
	Precision int     `yaml:"precision"`
}

type MQTT struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // tcp://host:1883
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Bind == "" {
		c.HTTP.Bind = "0.0.0.0"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 80
	}
	if len(c.HTTP.CORS.AllowedOrigins) == 0 {
		c.HTTP.CORS.AllowedOrigins = []string{"*"}
	}
	if c.WebSocket.MaxMessageSize == 0 {
		c.WebSocket.MaxMessageSize = 4096
	}
	if c.WebSocket.SendBuffer == 0 {
		c.WebSocket.SendBuffer = 64
	}
	if c.WebSocket.PingInterval == 0 {
		c.WebSocket.PingInterval = 30 * time.Second
	}
	if c.WebSocket.PongTimeout == 0 {
		c.WebSocket.PongTimeout = 60 * time.Second
	}
	if c.UI.DefaultAsset == "" {
		c.UI.DefaultAsset = "/"
	}
	if c.Captive.Page == "" {
		c.Captive.Page = "/cp"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	d := &c.Devices
	if d.PollInterval == 0 {
		d.PollInterval = time.Second
	}
	if d.InitAttempts == 0 {
		d.InitAttempts = 3
	}
	if d.InitBackoff == 0 {
		d.InitBackoff = 200 * time.Millisecond
	}
	if d.MaxBackoff == 0 {
		d.MaxBackoff = 5 * time.Second
	}
	if d.MaxPollFailures == 0 {
		d.MaxPollFailures = 5
	}
	if d.SDCard.Name == "" {
		d.SDCard.Name = "sdcard"
	}
	if d.SDCard.Chip == "" {
		d.SDCard.Chip = "gpiochip0"
	}
	if d.SDCard.Target == "" {
		d.SDCard.Target = "/sdcard"
	}
	if d.SDCard.FSType == "" {
		d.SDCard.FSType = "vfat"
	}
	if d.SDCard.Settle == 0 {
		d.SDCard.Settle = time.Second
	}
	for i := range d.Sensors {
		s := &d.Sensors[i]
		if s.Samples == 0 {
			s.Samples = 5
		}
		if s.Scale == 0 {
			s.Scale = 1
		}
		if s.Precision == 0 {
			s.Precision = 2
		}
	}
	if c.Watchdog.Timeout == 0 {
		c.Watchdog.Timeout = 5 * time.Second
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "devgate"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "devgate"
	}
	if c.MDNS.Instance == "" {
		c.MDNS.Instance = "devgate"
	}
}
