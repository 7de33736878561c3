// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

//go:build unit

package logging

import (
	"context"
	"log"
	"log/slog"
	"strings"
	"testing"
)

type TestWriter struct {
	Entries []string
}

func NewTestWriter() *TestWriter {
	return &TestWriter{
		Entries: make([]string, 0),
	}
}

func (w *TestWriter) Write(p []byte) (n int, err error) {
	w.Entries = append(w.Entries, string(p))
	return len(p), nil
}

func (w *TestWriter) Contains(substr string) bool {
	for _, entry := range w.Entries {
		if strings.Contains(entry, substr) {
			return true
		}
	}

	return false
}

func TestLogging_DirectSlogInfo(t *testing.T) {
	writer := NewTestWriter()
	slog.SetDefault(slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo})))

	slog.Info("test info")

	if !writer.Contains("test info") {
		t.Error("expected 'test info' in log entries")
	}
}

func TestLogging_LogProxyInfo(t *testing.T) {
	writer := NewTestWriter()
	slog.SetDefault(slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo})))
	lw := &slogWriter{}
	log.SetOutput(lw)

	log.Print("ERROR: test info")

	if !writer.Contains("test info") {
		t.Error("expected 'test info' in log entries")
	}
}

func TestLogging_MultiLevelHandlerSplitsStreams(t *testing.T) {
	fileWriter := NewTestWriter()
	consoleWriter := NewTestWriter()

	handler := &MultiLevelHandler{
		fileHandler:    slog.NewTextHandler(fileWriter, &slog.HandlerOptions{Level: slog.LevelDebug}),
		consoleHandler: slog.NewTextHandler(consoleWriter, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}
	logger := slog.New(handler)

	logger.Debug("only on file")
	logger.Warn("everywhere")

	if !fileWriter.Contains("only on file") || !fileWriter.Contains("everywhere") {
		t.Error("expected both records in the file stream")
	}
	if consoleWriter.Contains("only on file") {
		t.Error("debug record leaked to the console stream")
	}
	if !consoleWriter.Contains("everywhere") {
		t.Error("expected warning in the console stream")
	}

	if !handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("handler should accept debug records for the file stream")
	}
}
