package stt

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/wav"

	"github.com/loqalabs/loqa-dictation/internal/protocol"
)

func chunkLines(t *testing.T, chunks ...[]float32) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, c := range chunks {
		if err := enc.Encode(protocol.AudioChunkLine{Samples: c, SampleRate: 16000}); err != nil {
			t.Fatal(err)
		}
	}
	return &buf
}

func filled(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func decodeLines(t *testing.T, out *bytes.Buffer) []protocol.TranscriptionLine {
	t.Helper()
	var lines []protocol.TranscriptionLine
	for _, raw := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if raw == "" {
			continue
		}
		var line protocol.TranscriptionLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			t.Fatalf("invalid output line %q: %v", raw, err)
		}
		lines = append(lines, line)
	}
	return lines
}

func TestRunMockPartialsThenFinal(t *testing.T) {
	var chunks [][]float32
	for i := 0; i < 4; i++ {
		chunks = append(chunks, filled(160, 0.4))
	}
	for i := 0; i < 10; i++ {
		chunks = append(chunks, make([]float32, 160))
	}
	var out bytes.Buffer
	err := RunMock(chunkLines(t, chunks...), &out, MockOptions{Text: "open the door", PartialEvery: 2, SilenceMS: 50})
	if err != nil {
		t.Fatalf("run mock: %v", err)
	}

	lines := decodeLines(t, &out)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %+v", lines)
	}
	if lines[0].Text != "open" || lines[0].IsFinal {
		t.Fatalf("unexpected first partial %+v", lines[0])
	}
	if lines[1].Text != "open the" || lines[1].IsFinal {
		t.Fatalf("unexpected second partial %+v", lines[1])
	}
	if lines[2].Text != "open the door" || !lines[2].IsFinal || lines[2].Confidence == nil || *lines[2].Confidence != 0.9 {
		t.Fatalf("unexpected final %+v", lines[2])
	}
}

func TestRunMockSkipsMalformedAndFlushesAtEOF(t *testing.T) {
	in := bytes.NewBufferString("garbage\n")
	in.Write(chunkLines(t, filled(160, 0.5)).Bytes())

	var out bytes.Buffer
	if err := RunMock(in, &out, MockOptions{}); err != nil {
		t.Fatalf("run mock: %v", err)
	}
	lines := decodeLines(t, &out)
	if len(lines) != 1 || !lines[0].IsFinal || lines[0].Text != "hello world" {
		t.Fatalf("expected a single final at end of input, got %+v", lines)
	}
}

func TestRunMockSilenceOnly(t *testing.T) {
	var out bytes.Buffer
	if err := RunMock(chunkLines(t, make([]float32, 160), make([]float32, 160)), &out, MockOptions{}); err != nil {
		t.Fatalf("run mock: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output for silence, got %q", out.String())
	}
}

func TestRunMockDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.wav")
	in := chunkLines(t, filled(160, 0.25), filled(160, 0))
	if err := RunMock(in, &bytes.Buffer{}, MockOptions{DumpPath: path}); err != nil {
		t.Fatalf("run mock: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode dump: %v", err)
	}
	if dec.SampleRate != 16000 || dec.NumChans != 1 {
		t.Fatalf("unexpected format rate=%d chans=%d", dec.SampleRate, dec.NumChans)
	}
	if len(buf.Data) != 320 {
		t.Fatalf("expected 320 samples, got %d", len(buf.Data))
	}
	if buf.Data[0] != 8191 {
		t.Fatalf("expected first sample 8191, got %d", buf.Data[0])
	}
}
