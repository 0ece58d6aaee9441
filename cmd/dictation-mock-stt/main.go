// dictation-mock-stt speaks the transcriber line protocol on stdin/stdout
// without a speech model. It reports a fixed phrase for every utterance.
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/loqalabs/loqa-dictation/internal/stt"
)

func main() {
	var opts stt.MockOptions
	var modelPath string

	flag.StringVar(&modelPath, "model", "", "Model path (accepted for compatibility, unused)")
	flag.IntVar(&opts.SampleRate, "sample-rate", 16000, "Sample rate of incoming audio")
	flag.StringVar(&opts.Text, "text", "hello world", "Text reported for each utterance")
	flag.IntVar(&opts.SilenceMS, "silence-ms", 500, "Trailing silence that ends an utterance")
	flag.IntVar(&opts.PartialEvery, "partial-every", 5, "Voiced chunks between partial results")
	flag.StringVar(&opts.DumpPath, "dump", "", "Write received audio to this WAV file")
	flag.Parse()

	// stdout carries the protocol, so logs go to stderr.
	opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil)).With(slog.String("component", "mock-stt"))
	if modelPath != "" {
		opts.Logger.Debug("ignoring model", slog.String("path", modelPath))
	}

	if err := stt.RunMock(os.Stdin, os.Stdout, opts); err != nil {
		opts.Logger.Error("mock transcriber failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
