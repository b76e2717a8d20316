// Package engine creates the configured audio engine backend.
package engine

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nowplaying/internal/app/playback"
	"github.com/osa030/nowplaying/internal/infra/config"
	"github.com/osa030/nowplaying/internal/infra/engine/beep"
	"github.com/osa030/nowplaying/internal/infra/engine/mpd"
)

// New creates the engine selected by cfg.Engine.Type. Engine failures are
// marked with playback.ErrEngineCreateFailed.
func New(cfg *config.Config) (playback.Engine, error) {
	e, err := create(cfg.Engine, cfg.TickInterval())
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to create %s engine", cfg.Engine.Type), playback.ErrEngineCreateFailed)
	}
	return e, nil
}

func create(ecfg config.EngineConfig, interval time.Duration) (playback.Engine, error) {
	zlog.Debug().Msgf("creating engine: type=%s settings=%+v", ecfg.Type, redact(ecfg.Settings))

	switch ecfg.Type {
	case "mpd":
		var s mpd.Settings
		if err := DecodeSettings(ecfg.Settings, &s); err != nil {
			return nil, err
		}
		e, err := mpd.New(s, interval)
		if err != nil {
			return nil, err
		}
		zlog.Info().Msgf("engine ready: type=mpd addr=%s", s.Addr())
		return e, nil

	case "beep":
		var s beep.Settings
		if err := DecodeSettings(ecfg.Settings, &s); err != nil {
			return nil, err
		}
		e, err := beep.New(s, interval)
		if err != nil {
			return nil, err
		}
		zlog.Info().Msgf("engine ready: type=beep sample_rate=%d", s.SampleRate)
		return e, nil

	default:
		return nil, errors.Newf("unsupported engine type: %s", ecfg.Type)
	}
}

// DecodeSettings decodes backend settings into out, then applies defaults
// and validation tags.
func DecodeSettings(settings map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(out); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(out); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}

func redact(settings map[string]any) map[string]any {
	out := make(map[string]any, len(settings))
	for k, v := range settings {
		if k == "password" {
			v = "***"
		}
		out[k] = v
	}
	return out
}
