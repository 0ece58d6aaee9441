package runtime

import (
	"log/slog"

	"github.com/loqalabs/loqa-dictation/internal/capture"
	"github.com/loqalabs/loqa-dictation/internal/capture/portaudio"
	"github.com/loqalabs/loqa-dictation/internal/command"
	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/coordinator"
	"github.com/loqalabs/loqa-dictation/internal/denoise"
	"github.com/loqalabs/loqa-dictation/internal/keyboard"
	"github.com/loqalabs/loqa-dictation/internal/keyboard/keybd"
	"github.com/loqalabs/loqa-dictation/internal/metrics"
	"github.com/loqalabs/loqa-dictation/internal/vad"
	"github.com/loqalabs/loqa-dictation/internal/vad/webrtc"
)

// pipelineOptions binds the config to the concrete capture, denoise, VAD
// and keyboard implementations.
func pipelineOptions(cfg config.Config, m *metrics.Pipeline, log *slog.Logger) coordinator.Options {
	settings := cfg.Dictation

	var driver capture.Driver
	switch cfg.Audio.Source {
	case "file":
		driver = capture.FileDriver{Path: cfg.Audio.FilePath, Realtime: cfg.Audio.Realtime}
	default:
		driver = portaudio.Driver{Log: log}
	}

	var vadFactory vad.Factory
	if mode := settings.VADMode.Aggressiveness(); mode >= 0 {
		vadFactory = webrtc.Factory(mode, cfg.Audio.SampleRate)
	}

	return coordinator.Options{
		Settings: &settings,
		Stream: capture.StreamConfig{
			SampleRate:      cfg.Audio.SampleRate,
			Channels:        cfg.Audio.Channels,
			FramesPerBuffer: cfg.Audio.FramesPerBuffer,
		},
		MailboxCapacity:    cfg.Audio.MailboxCapacity,
		TranscriberCommand: cfg.Transcriber.Command,
		Driver:             driver,
		NewDenoiser: func() (denoise.Denoiser, error) {
			return denoise.NewSpectral(), nil
		},
		VADFactory: vadFactory,
		NewTyper: func() (keyboard.Typer, error) {
			typer, err := keybd.New(log)
			if err != nil {
				return nil, err
			}
			return typer, nil
		},
		Launcher: command.ExecLauncher,
		Metrics:  m,
	}
}
