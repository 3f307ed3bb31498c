package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/zl2brg/cudasdr/internal/protocol"
	"github.com/zl2brg/cudasdr/internal/radio"
)

// Config is the engine configuration, read once at start
type Config struct {
	filename string

	// Radio section
	protocol         string
	address          string
	port             int
	localPort        int
	discoveryTimeout time.Duration
	sampleRate       int
	receivers        int
	wideband         bool
	tos              int
	clockSource      uint8
	micSource        uint8
	classE           bool
	attenuator       uint8
	preamp           bool
	dither           bool
	random           bool
	rxAntenna        uint8

	// Receivers section
	frequencies   []uint32
	adc           []int
	bufferSize    int
	audioReceiver int

	// Transmit section
	txFrequency uint32
	drive       int
	micGain     float64
	duplex      bool
	txAntenna   uint8
	alexEnabled bool

	// CW section
	cwInternal         bool
	cwSpeed            int
	cwWeight           int
	cwMode             radio.KeyerMode
	cwReversed         bool
	cwLetterSpacing    bool
	cwHangTime         time.Duration
	cwSidetoneVolume   uint8
	cwSidetoneFreq     int
	cwPTTDelay         int
	cwSqueezeDashFirst bool
	cwSerialPort       string
	cwBreakIn          bool

	// Engine section
	queueSize   int
	stopTimeout time.Duration
	dsp         string

	// Database section
	databaseEnabled     bool
	databasePath        string
	databaseCacheSize   int
	databaseJournal     string
	databaseBusyTimeout time.Duration
	databaseSlowQuery   time.Duration

	// Log section
	logLevel string

	// Metrics section
	metricsEnabled bool
	metricsListen  string

	// MQTT section
	mqttEnabled  bool
	mqttBroker   string
	mqttTopic    string
	mqttClientID string
	mqttUsername string
	mqttPassword string
	mqttQoS      int
	mqttRetain   bool
}

// NewConfig creates a configuration with defaults for filename
func NewConfig(filename string) *Config {
	return &Config{
		filename: filename,

		protocol:         "1",
		port:             protocol.DEFAULT_PORT,
		discoveryTimeout: 2 * time.Second,
		sampleRate:       48000,
		receivers:        1,

		bufferSize: 1024,

		micGain: 0.26,

		cwSpeed:            20,
		cwWeight:           50,
		cwMode:             radio.KEYER_MODE_B,
		cwLetterSpacing:    true,
		cwHangTime:         300 * time.Millisecond,
		cwSidetoneFreq:     600,
		cwSqueezeDashFirst: true,

		queueSize:   64,
		stopTimeout: 2 * time.Second,
		dsp:         "null",

		databasePath:        "data/cudasdr.db",
		databaseCacheSize:   32,
		databaseJournal:     "WAL",
		databaseBusyTimeout: 5 * time.Second,
		databaseSlowQuery:   200 * time.Millisecond,

		logLevel: "INFO",

		metricsListen: ":9110",

		mqttTopic: "cudasdr/engine",
	}
}

// Load reads the configuration file
func (c *Config) Load() error {
	file, err := ini.Load(c.filename)
	if err != nil {
		return fmt.Errorf("failed to open config file %s: %w", c.filename, err)
	}
	return c.parse(file)
}

// LoadFromString reads configuration from a string
func (c *Config) LoadFromString(data string) error {
	file, err := ini.Load([]byte(data))
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return c.parse(file)
}

func (c *Config) parse(file *ini.File) error {
	r := &reader{}

	c.parseRadioSection(r.section(file, "Radio"))
	c.parseReceiversSection(r.section(file, "Receivers"))
	c.parseTransmitSection(r.section(file, "Transmit"))
	c.parseCWSection(r.section(file, "CW"))
	c.parseEngineSection(r.section(file, "Engine"))
	c.parseDatabaseSection(r.section(file, "Database"))
	c.parseLogSection(r.section(file, "Log"))
	c.parseMetricsSection(r.section(file, "Metrics"))
	c.parseMQTTSection(r.section(file, "MQTT"))

	if len(r.errs) > 0 {
		return errors.Join(r.errs...)
	}
	return c.Validate()
}

func (c *Config) parseRadioSection(s *section) {
	c.protocol = strings.ToLower(s.getString("Protocol", c.protocol))
	c.address = s.getString("Address", c.address)
	c.port = s.getInt("Port", c.port)
	c.localPort = s.getInt("LocalPort", c.localPort)
	c.discoveryTimeout = s.millis("DiscoveryTimeout", c.discoveryTimeout)
	c.sampleRate = s.getInt("SampleRate", c.sampleRate)
	c.receivers = s.getInt("Receivers", c.receivers)
	c.wideband = s.getBool("Wideband", c.wideband)
	c.tos = s.getInt("TOS", c.tos)
	c.clockSource = uint8(s.getInt("ClockSource", int(c.clockSource)))
	c.micSource = uint8(s.getInt("MicSource", int(c.micSource)))
	c.classE = s.getBool("ClassE", c.classE)
	c.attenuator = uint8(s.getInt("Attenuator", int(c.attenuator)))
	c.preamp = s.getBool("Preamp", c.preamp)
	c.dither = s.getBool("Dither", c.dither)
	c.random = s.getBool("Random", c.random)
	c.rxAntenna = uint8(s.getInt("Antenna", int(c.rxAntenna)))
}

func (c *Config) parseReceiversSection(s *section) {
	c.frequencies = s.uint32List("Frequencies", c.frequencies)
	c.adc = s.intList("ADC", c.adc)
	c.bufferSize = s.getInt("BufferSize", c.bufferSize)
	c.audioReceiver = s.getInt("AudioReceiver", c.audioReceiver)
}

func (c *Config) parseTransmitSection(s *section) {
	c.txFrequency = uint32(s.getInt("Frequency", int(c.txFrequency)))
	c.drive = s.getInt("Drive", c.drive)
	c.micGain = s.getFloat("MicGain", c.micGain)
	c.duplex = s.getBool("Duplex", c.duplex)
	c.txAntenna = uint8(s.getInt("Antenna", int(c.txAntenna)))
	c.alexEnabled = s.getBool("AlexEnabled", c.alexEnabled)
}

func (c *Config) parseCWSection(s *section) {
	c.cwInternal = s.getBool("Internal", c.cwInternal)
	c.cwSpeed = s.getInt("Speed", c.cwSpeed)
	c.cwWeight = s.getInt("Weight", c.cwWeight)
	if s.has("Mode") {
		mode, err := radio.ParseKeyerMode(s.getString("Mode", ""))
		if err != nil {
			s.fail("Mode", err)
		} else {
			c.cwMode = mode
		}
	}
	c.cwReversed = s.getBool("Reversed", c.cwReversed)
	c.cwLetterSpacing = s.getBool("LetterSpacing", c.cwLetterSpacing)
	c.cwHangTime = s.millis("HangTime", c.cwHangTime)
	c.cwSidetoneVolume = uint8(s.getInt("SidetoneVolume", int(c.cwSidetoneVolume)))
	c.cwSidetoneFreq = s.getInt("SidetoneFrequency", c.cwSidetoneFreq)
	c.cwPTTDelay = s.getInt("PTTDelay", c.cwPTTDelay)
	c.cwSqueezeDashFirst = s.getBool("SqueezeDashFirst", c.cwSqueezeDashFirst)
	c.cwSerialPort = s.getString("SerialPort", c.cwSerialPort)
	c.cwBreakIn = s.getBool("BreakIn", c.cwBreakIn)
}

func (c *Config) parseEngineSection(s *section) {
	c.queueSize = s.getInt("QueueSize", c.queueSize)
	c.stopTimeout = s.millis("StopTimeout", c.stopTimeout)
	c.dsp = strings.ToLower(s.getString("DSP", c.dsp))
}

func (c *Config) parseDatabaseSection(s *section) {
	c.databaseEnabled = s.getBool("Enabled", c.databaseEnabled)
	c.databasePath = s.getString("Path", c.databasePath)
	c.databaseCacheSize = s.getInt("CacheSize", c.databaseCacheSize)
	c.databaseJournal = strings.ToUpper(s.getString("JournalMode", c.databaseJournal))
	c.databaseBusyTimeout = s.millis("BusyTimeout", c.databaseBusyTimeout)
	c.databaseSlowQuery = s.millis("SlowQuery", c.databaseSlowQuery)
}

func (c *Config) parseLogSection(s *section) {
	c.logLevel = strings.ToUpper(s.getString("Level", c.logLevel))
}

func (c *Config) parseMetricsSection(s *section) {
	c.metricsEnabled = s.getBool("Enabled", c.metricsEnabled)
	c.metricsListen = s.getString("Listen", c.metricsListen)
}

func (c *Config) parseMQTTSection(s *section) {
	c.mqttEnabled = s.getBool("Enabled", c.mqttEnabled)
	c.mqttBroker = s.getString("Broker", c.mqttBroker)
	c.mqttTopic = s.getString("Topic", c.mqttTopic)
	c.mqttClientID = s.getString("ClientID", c.mqttClientID)
	c.mqttUsername = s.getString("Username", c.mqttUsername)
	c.mqttPassword = s.getString("Password", c.mqttPassword)
	c.mqttQoS = s.getInt("QoS", c.mqttQoS)
	c.mqttRetain = s.getBool("Retain", c.mqttRetain)
}

// Validate checks ranges and cross-field constraints
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.protocol == "1" || c.protocol == "2" || c.protocol == "soapy",
		"Radio.Protocol %q must be 1, 2 or soapy", c.protocol)
	check(c.port > 0 && c.port <= 65535, "Radio.Port %d out of range", c.port)
	check(c.localPort >= 0 && c.localPort <= 65535, "Radio.LocalPort %d out of range", c.localPort)
	_, rateOK := protocol.SAMPLE_RATE_BITS[c.sampleRate]
	check(rateOK, "Radio.SampleRate %d must be 48000, 96000, 192000 or 384000", c.sampleRate)
	check(c.receivers >= protocol.MIN_RECEIVERS && c.receivers <= protocol.MAX_RECEIVERS,
		"Radio.Receivers %d out of range %d..%d", c.receivers, protocol.MIN_RECEIVERS, protocol.MAX_RECEIVERS)
	check(c.tos >= 0 && c.tos <= 255, "Radio.TOS %d out of range", c.tos)
	check(c.attenuator <= 3, "Radio.Attenuator %d out of range 0..3", c.attenuator)

	check(len(c.frequencies) <= c.receivers, "Receivers.Frequencies lists %d entries for %d receivers", len(c.frequencies), c.receivers)
	check(len(c.adc) <= c.receivers, "Receivers.ADC lists %d entries for %d receivers", len(c.adc), c.receivers)
	for i, adc := range c.adc {
		check(adc >= 0 && adc <= 3, "Receivers.ADC entry %d is %d, want 0..3", i, adc)
	}
	check(c.bufferSize > 0, "Receivers.BufferSize must be positive")
	check(c.audioReceiver >= 0 && c.audioReceiver < c.receivers,
		"Receivers.AudioReceiver %d is not a configured receiver", c.audioReceiver)

	check(c.drive >= 0 && c.drive <= 255, "Transmit.Drive %d out of range 0..255", c.drive)
	check(c.micGain >= 0, "Transmit.MicGain must not be negative")
	check(c.txAntenna <= 2, "Transmit.Antenna %d out of range 0..2", c.txAntenna)

	check(c.cwSpeed >= 1 && c.cwSpeed <= 60, "CW.Speed %d out of range 1..60", c.cwSpeed)
	check(c.cwWeight >= 0 && c.cwWeight <= 100, "CW.Weight %d out of range 0..100", c.cwWeight)
	check(c.cwHangTime >= 0 && c.cwHangTime <= 1023*time.Millisecond, "CW.HangTime %v out of range", c.cwHangTime)
	check(c.cwSidetoneFreq >= 0 && c.cwSidetoneFreq <= 4095, "CW.SidetoneFrequency %d out of range", c.cwSidetoneFreq)
	check(c.cwPTTDelay >= 0 && c.cwPTTDelay <= 255, "CW.PTTDelay %d out of range", c.cwPTTDelay)

	check(c.queueSize >= 2, "Engine.QueueSize %d must be at least 2", c.queueSize)
	check(c.stopTimeout > 0, "Engine.StopTimeout must be positive")

	check(!c.databaseEnabled || c.databasePath != "", "Database.Path is required when enabled")
	switch c.databaseJournal {
	case "WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY", "OFF":
	default:
		check(false, "Database.JournalMode %q is not a sqlite journal mode", c.databaseJournal)
	}
	check(c.databaseBusyTimeout > 0, "Database.BusyTimeout must be positive")
	check(c.databaseSlowQuery > 0, "Database.SlowQuery must be positive")

	switch c.logLevel {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		check(false, "Log.Level %q must be DEBUG, INFO, WARN or ERROR", c.logLevel)
	}

	check(!c.metricsEnabled || c.metricsListen != "", "Metrics.Listen is required when enabled")
	check(!c.mqttEnabled || c.mqttBroker != "", "MQTT.Broker is required when enabled")
	check(c.mqttQoS >= 0 && c.mqttQoS <= 2, "MQTT.QoS %d out of range 0..2", c.mqttQoS)

	return errors.Join(errs...)
}

// reader collects value errors across sections
type reader struct {
	errs []error
}

type section struct {
	name string
	s    *ini.Section
	r    *reader
}

func (r *reader) section(file *ini.File, name string) *section {
	// a missing section reads as empty
	return &section{name: name, s: file.Section(name), r: r}
}

func (s *section) has(key string) bool {
	return s.s.HasKey(key)
}

func (s *section) fail(key string, err error) {
	s.r.errs = append(s.r.errs, fmt.Errorf("%s.%s: %w", s.name, key, err))
}

func (s *section) getString(key, def string) string {
	if !s.has(key) {
		return def
	}
	return strings.TrimSpace(s.s.Key(key).String())
}

func (s *section) getInt(key string, def int) int {
	if !s.has(key) {
		return def
	}
	v, err := s.s.Key(key).Int()
	if err != nil {
		s.fail(key, err)
		return def
	}
	return v
}

func (s *section) getFloat(key string, def float64) float64 {
	if !s.has(key) {
		return def
	}
	v, err := s.s.Key(key).Float64()
	if err != nil {
		s.fail(key, err)
		return def
	}
	return v
}

func (s *section) getBool(key string, def bool) bool {
	if !s.has(key) {
		return def
	}
	v, err := s.s.Key(key).Bool()
	if err != nil {
		s.fail(key, err)
		return def
	}
	return v
}

func (s *section) millis(key string, def time.Duration) time.Duration {
	if !s.has(key) {
		return def
	}
	return time.Duration(s.getInt(key, int(def/time.Millisecond))) * time.Millisecond
}

func (s *section) intList(key string, def []int) []int {
	if !s.has(key) {
		return def
	}
	var out []int
	for _, field := range strings.Split(s.s.Key(key).String(), ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.Atoi(field)
		if err != nil {
			s.fail(key, err)
			return def
		}
		out = append(out, v)
	}
	return out
}

func (s *section) uint32List(key string, def []uint32) []uint32 {
	if !s.has(key) {
		return def
	}
	var out []uint32
	for _, field := range strings.Split(s.s.Key(key).String(), ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseUint(field, 10, 32)
		if err != nil {
			s.fail(key, err)
			return def
		}
		out = append(out, uint32(v))
	}
	return out
}

// Radio section
func (c *Config) GetProtocol() string { return c.protocol }
func (c *Config) GetAddress() string { return c.address }
func (c *Config) GetPort() int { return c.port }
func (c *Config) GetLocalPort() int { return c.localPort }
func (c *Config) GetDiscoveryTimeout() time.Duration { return c.discoveryTimeout }
func (c *Config) GetSampleRate() int { return c.sampleRate }
func (c *Config) GetReceivers() int { return c.receivers }
func (c *Config) GetWideband() bool { return c.wideband }
func (c *Config) GetTOS() int { return c.tos }
func (c *Config) GetClockSource() uint8 { return c.clockSource }
func (c *Config) GetMicSource() uint8 { return c.micSource }
func (c *Config) GetClassE() bool { return c.classE }
func (c *Config) GetAttenuator() uint8 { return c.attenuator }
func (c *Config) GetPreamp() bool { return c.preamp }
func (c *Config) GetDither() bool { return c.dither }
func (c *Config) GetRandom() bool { return c.random }
func (c *Config) GetRxAntenna() uint8 { return c.rxAntenna }

// Receivers section
func (c *Config) GetFrequencies() []uint32 { return c.frequencies }
func (c *Config) GetADC() []int { return c.adc }
func (c *Config) GetBufferSize() int { return c.bufferSize }
func (c *Config) GetAudioReceiver() int { return c.audioReceiver }

// Transmit section
func (c *Config) GetTxFrequency() uint32 { return c.txFrequency }
func (c *Config) GetDrive() int { return c.drive }
func (c *Config) GetMicGain() float64 { return c.micGain }
func (c *Config) GetDuplex() bool { return c.duplex }
func (c *Config) GetTxAntenna() uint8 { return c.txAntenna }
func (c *Config) GetAlexEnabled() bool { return c.alexEnabled }

// CW section
func (c *Config) GetCWInternal() bool { return c.cwInternal }
func (c *Config) GetCWSpeed() int { return c.cwSpeed }
func (c *Config) GetCWWeight() int { return c.cwWeight }
func (c *Config) GetCWMode() radio.KeyerMode { return c.cwMode }
func (c *Config) GetCWReversed() bool { return c.cwReversed }
func (c *Config) GetCWLetterSpacing() bool { return c.cwLetterSpacing }
func (c *Config) GetCWHangTime() time.Duration { return c.cwHangTime }
func (c *Config) GetCWSidetoneVolume() uint8 { return c.cwSidetoneVolume }
func (c *Config) GetCWSidetoneFrequency() int { return c.cwSidetoneFreq }
func (c *Config) GetCWPTTDelay() int { return c.cwPTTDelay }
func (c *Config) GetCWSqueezeDashFirst() bool { return c.cwSqueezeDashFirst }
func (c *Config) GetCWSerialPort() string { return c.cwSerialPort }
func (c *Config) GetCWBreakIn() bool { return c.cwBreakIn }

// SetDSP overrides the DSP engine from the command line
func (c *Config) SetDSP(kind string) { c.dsp = strings.ToLower(kind) }

// Engine section
func (c *Config) GetQueueSize() int { return c.queueSize }
func (c *Config) GetStopTimeout() time.Duration { return c.stopTimeout }
func (c *Config) GetDSP() string { return c.dsp }

// Database section
func (c *Config) GetDatabaseEnabled() bool { return c.databaseEnabled }
func (c *Config) GetDatabasePath() string { return c.databasePath }
func (c *Config) GetDatabaseCacheSize() int { return c.databaseCacheSize }
func (c *Config) GetDatabaseJournalMode() string { return c.databaseJournal }
func (c *Config) GetDatabaseBusyTimeout() time.Duration { return c.databaseBusyTimeout }
func (c *Config) GetDatabaseSlowQuery() time.Duration { return c.databaseSlowQuery }

// Log section
func (c *Config) GetLogLevel() string { return c.logLevel }

// Metrics section
func (c *Config) GetMetricsEnabled() bool { return c.metricsEnabled }
func (c *Config) GetMetricsListen() string { return c.metricsListen }

// MQTT section
func (c *Config) GetMQTTEnabled() bool { return c.mqttEnabled }
func (c *Config) GetMQTTBroker() string { return c.mqttBroker }
func (c *Config) GetMQTTTopic() string { return c.mqttTopic }
func (c *Config) GetMQTTClientID() string { return c.mqttClientID }
func (c *Config) GetMQTTUsername() string { return c.mqttUsername }
func (c *Config) GetMQTTPassword() string { return c.mqttPassword }
func (c *Config) GetMQTTQoS() int { return c.mqttQoS }
func (c *Config) GetMQTTRetain() bool { return c.mqttRetain }
