package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/zl2brg/cudasdr/internal/config"
	"github.com/zl2brg/cudasdr/internal/database"
	"github.com/zl2brg/cudasdr/internal/dsp"
	"github.com/zl2brg/cudasdr/internal/engine"
	"github.com/zl2brg/cudasdr/internal/firmware"
	"github.com/zl2brg/cudasdr/internal/keyer"
	"github.com/zl2brg/cudasdr/internal/metrics"
	"github.com/zl2brg/cudasdr/internal/network"
	"github.com/zl2brg/cudasdr/internal/radio"
	"github.com/zl2brg/cudasdr/internal/status"
)

// services holds everything built from the configuration around the engine
type services struct {
	params    *radio.Params
	keyer     *keyer.Keyer
	paddle    *keyer.SerialPaddle
	metrics   *metrics.Metrics
	publisher *status.MQTTPublisher
	db        *database.DB
	recorder  *database.Recorder
	firmware  *firmware.Checker

	failed chan error
}

func newServices(ctx context.Context, cfg *config.Config) (*services, error) {
	svc := &services{failed: make(chan error, 2)}

	params, err := buildParams(cfg)
	if err != nil {
		return nil, err
	}
	svc.params = params

	if cfg.GetMetricsEnabled() {
		svc.metrics = metrics.New()
		go func() {
			if err := svc.metrics.Serve(ctx, cfg.GetMetricsListen()); err != nil {
				svc.fail(fmt.Errorf("metrics server: %w", err))
			}
		}()
	}

	if cfg.GetDatabaseEnabled() {
		if err := svc.openDatabase(cfg); err != nil {
			log.Printf("[WARN] Database unavailable, using the built-in firmware table: %v", err)
		}
	}
	if svc.firmware == nil {
		svc.firmware = firmware.NewChecker(firmware.DefaultTable())
	}

	if cfg.GetMQTTEnabled() {
		publisher, err := status.NewMQTTPublisher(status.Config{
			Broker:         cfg.GetMQTTBroker(),
			Topic:          cfg.GetMQTTTopic(),
			ClientIDPrefix: cfg.GetMQTTClientID(),
			Username:       cfg.GetMQTTUsername(),
			Password:       cfg.GetMQTTPassword(),
			QoS:            byte(cfg.GetMQTTQoS()),
			Retain:         cfg.GetMQTTRetain(),
		})
		if err != nil {
			log.Printf("[WARN] MQTT status publishing disabled: %v", err)
		} else {
			svc.publisher = publisher
		}
	}

	// the radio's own keyer handles CW when Internal is set
	if !cfg.GetCWInternal() {
		svc.keyer = keyer.New(keyerConfig(cfg), nil)

		if port := cfg.GetCWSerialPort(); port != "" {
			paddle, err := keyer.OpenSerialPaddle(port, svc.keyer)
			if err != nil {
				svc.close()
				return nil, err
			}
			svc.paddle = paddle
			go func() {
				if err := paddle.Run(ctx); err != nil {
					svc.fail(err)
				}
			}()
			log.Printf("[INFO] Keyer: paddle on %s", port)
		}
	}

	return svc, nil
}

func (s *services) openDatabase(cfg *config.Config) error {
	path := cfg.GetDatabasePath()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	db, err := database.NewDB(databaseConfig(cfg), log.Default())
	if err != nil {
		return err
	}

	repo := database.NewFirmwareRepository(db.GetDB())
	if err := firmware.Seed(repo, firmware.DefaultTable()); err != nil {
		db.Close()
		return err
	}

	s.db = db
	s.recorder = database.NewRecorder(db)
	s.firmware = firmware.NewChecker(firmware.NewDatabaseSourceWithConfig(repo, firmware.DatabaseSourceConfig{
		EnableCache: true,
		CacheSize:   cfg.GetDatabaseCacheSize(),
	}))
	return nil
}

func databaseConfig(cfg *config.Config) database.Config {
	return database.Config{
		Path:        cfg.GetDatabasePath(),
		JournalMode: cfg.GetDatabaseJournalMode(),
		BusyTimeout: cfg.GetDatabaseBusyTimeout(),
		SlowQuery:   cfg.GetDatabaseSlowQuery(),
		Debug:       cfg.GetLogLevel() == "DEBUG",
	}
}

func (s *services) fail(err error) {
	select {
	case s.failed <- err:
	default:
	}
}

func (s *services) close() {
	if s.paddle != nil {
		s.paddle.Close()
	}
	if s.publisher != nil {
		s.publisher.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Printf("[WARN] Database close: %v", err)
		}
	}
}

// engineOptions assembles the engine options. Optional collaborators stay
// nil interfaces when they are disabled.
func (s *services) engineOptions(cfg *config.Config) engine.Options {
	opts := engine.Options{
		Settings: engine.Settings{
			Protocol:         network.Kind(cfg.GetProtocol()),
			Address:          cfg.GetAddress(),
			Port:             cfg.GetPort(),
			LocalPort:        cfg.GetLocalPort(),
			DiscoveryTimeout: cfg.GetDiscoveryTimeout(),
			Wideband:         cfg.GetWideband(),
			TOS:              cfg.GetTOS(),
			Receivers:        cfg.GetReceivers(),
			SampleRate:       cfg.GetSampleRate(),
			BufferSize:       cfg.GetBufferSize(),
			AudioReceiver:    cfg.GetAudioReceiver(),
			MicGain:          cfg.GetMicGain(),
			DSP:              dsp.Kind(cfg.GetDSP()),
			QueueSize:        cfg.GetQueueSize(),
			StopTimeout:      cfg.GetStopTimeout(),
		},
		Params:  s.params,
		Metrics: s.metrics,
		Keyer:   s.keyer,
		TxChain: dsp.MicPassthrough{Gain: 1},
	}
	if s.firmware != nil {
		opts.Firmware = s.firmware
	}
	if s.recorder != nil {
		opts.Recorder = s.recorder
	}
	if s.publisher != nil {
		opts.Publisher = s.publisher
	}
	return opts
}

// buildParams creates the runtime parameter block from the configuration
func buildParams(cfg *config.Config) (*radio.Params, error) {
	params, err := radio.NewParams(cfg.GetReceivers(), cfg.GetSampleRate())
	if err != nil {
		return nil, err
	}

	for rx, hz := range cfg.GetFrequencies() {
		if err := params.SetRxFrequency(rx, hz); err != nil {
			return nil, err
		}
	}
	for rx, adc := range cfg.GetADC() {
		if err := params.SetADC(rx, adc); err != nil {
			return nil, err
		}
	}

	params.SetTxFrequency(cfg.GetTxFrequency())
	params.SetDrive(byte(cfg.GetDrive()))
	params.SetMicGain(cfg.GetMicGain())

	params.SetFrontend(radio.Frontend{
		ClockSource: cfg.GetClockSource(),
		MicSource:   cfg.GetMicSource(),
		ClassE:      cfg.GetClassE(),
		Attenuator:  cfg.GetAttenuator(),
		Preamp:      cfg.GetPreamp(),
		Dither:      cfg.GetDither(),
		Random:      cfg.GetRandom(),
		RxAntenna:   cfg.GetRxAntenna(),
		TxAntenna:   cfg.GetTxAntenna(),
		Duplex:      cfg.GetDuplex(),
		AlexEnabled: cfg.GetAlexEnabled(),
	})

	params.SetCW(radio.CW{
		Internal:       cfg.GetCWInternal(),
		SidetoneVolume: cfg.GetCWSidetoneVolume(),
		PTTDelay:       byte(cfg.GetCWPTTDelay()),
		HangTime:       uint16(cfg.GetCWHangTime() / time.Millisecond),
		SidetoneFreq:   uint16(cfg.GetCWSidetoneFrequency()),
		Speed:          byte(cfg.GetCWSpeed()),
		Mode:           cfg.GetCWMode(),
		Weight:         byte(cfg.GetCWWeight()),
		Spacing:        cfg.GetCWLetterSpacing(),
		Reversed:       cfg.GetCWReversed(),
	})

	return params, nil
}

func keyerConfig(cfg *config.Config) keyer.Config {
	return keyer.Config{
		Speed:            cfg.GetCWSpeed(),
		Weight:           cfg.GetCWWeight(),
		Mode:             cfg.GetCWMode(),
		LetterSpacing:    cfg.GetCWLetterSpacing(),
		HangTime:         cfg.GetCWHangTime(),
		Reversed:         cfg.GetCWReversed(),
		SqueezeDashFirst: cfg.GetCWSqueezeDashFirst(),
	}
}
