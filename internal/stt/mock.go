package stt

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/loqalabs/loqa-dictation/internal/audio"
	"github.com/loqalabs/loqa-dictation/internal/protocol"
)

// MockOptions configures the scripted recognizer used for demos and tests.
type MockOptions struct {
	// Text is reported for every utterance. Partials reveal it word by word.
	Text           string
	SampleRate     int
	VoiceThreshold float32
	// SilenceMS of trailing silence ends an utterance.
	SilenceMS int
	// PartialEvery emits a partial after this many voiced chunks.
	PartialEvery int
	Confidence   float32
	// DumpPath, when set, receives every sample read as a 16-bit WAV file.
	DumpPath string
	Logger   *slog.Logger
}

func (o *MockOptions) defaults() {
	if o.Text == "" {
		o.Text = "hello world"
	}
	if o.SampleRate <= 0 {
		o.SampleRate = 16000
	}
	if o.VoiceThreshold <= 0 {
		o.VoiceThreshold = 0.01
	}
	if o.SilenceMS <= 0 {
		o.SilenceMS = 500
	}
	if o.PartialEvery <= 0 {
		o.PartialEvery = 5
	}
	if o.Confidence <= 0 {
		o.Confidence = 0.9
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// RunMock speaks the recognizer protocol on r and w until r is exhausted.
// An utterance starts with the first voiced chunk and ends after SilenceMS
// of quiet, or at end of input.
func RunMock(r io.Reader, w io.Writer, opts MockOptions) error {
	opts.defaults()
	log := opts.Logger.With(slog.String("component", "mock-stt"))

	out := bufio.NewWriter(w)
	enc := json.NewEncoder(out)
	emit := func(text string, final bool) error {
		line := protocol.TranscriptionLine{Text: text, IsFinal: final}
		if final {
			c := opts.Confidence
			line.Confidence = &c
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
		return out.Flush()
	}

	words := strings.Fields(opts.Text)
	var (
		inSpeech      bool
		voicedChunks  int
		silentSamples int
		dump          []int
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		var line protocol.AudioChunkLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			log.Warn("skipping malformed chunk", slog.String("error", err.Error()))
			continue
		}
		rate := int(line.SampleRate)
		if rate <= 0 {
			rate = opts.SampleRate
		}
		if opts.DumpPath != "" {
			for _, s := range audio.ToPCM16(line.Samples) {
				dump = append(dump, int(s))
			}
		}

		if audio.Chunk(line.Samples).MeanSquare() > opts.VoiceThreshold {
			inSpeech = true
			silentSamples = 0
			voicedChunks++
			if voicedChunks%opts.PartialEvery == 0 {
				n := min(voicedChunks/opts.PartialEvery, len(words))
				if err := emit(strings.Join(words[:n], " "), false); err != nil {
					return fmt.Errorf("write partial: %w", err)
				}
			}
			continue
		}
		if !inSpeech {
			continue
		}
		silentSamples += len(line.Samples)
		if silentSamples*1000/rate >= opts.SilenceMS {
			if err := emit(opts.Text, true); err != nil {
				return fmt.Errorf("write final: %w", err)
			}
			inSpeech = false
			voicedChunks = 0
			silentSamples = 0
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read chunks: %w", err)
	}
	if inSpeech {
		if err := emit(opts.Text, true); err != nil {
			return fmt.Errorf("write final: %w", err)
		}
	}
	if opts.DumpPath != "" {
		return writeDump(opts.DumpPath, dump, opts.SampleRate)
	}
	return nil
}

func writeDump(path string, samples []int, sampleRate int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dump: %w", err)
	}
	defer file.Close()

	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
