package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
}

func TestPrettyHandler_HTTPFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, true))
	log.Info("http.request",
		"method", "get",
		"path", "/clients",
		"status", 404,
		"status_class", "4xx",
		"result", "client_error",
		"duration_ms", int64(300),
	)

	raw := buf.String()
	if !strings.Contains(raw, ansiYellow+"404"+ansiReset) {
		t.Fatalf("status not colorized: %q", raw)
	}

	plain := stripANSI(raw)
	for _, want := range []string{"GET", "path=/clients", "status=404", "class=4xx", "result=client_error", "duration=300ms"} {
		if !strings.Contains(plain, want) {
			t.Fatalf("output %q missing %q", plain, want)
		}
	}
}

func TestPrettyHandler_Groups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false)).WithGroup("archive")
	log.Info("archive.append", slog.Group("res", "stored", true), "seq", 3)

	got := buf.String()
	if !strings.Contains(got, "archive.res.stored=true") || !strings.Contains(got, "archive.seq=3") {
		t.Fatalf("grouped keys missing: %q", got)
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "", want: `""`},
		{in: "plain", want: "plain"},
		{in: "with space", want: `"with space"`},
		{in: "k=v", want: `"k=v"`},
	}
	for _, tc := range cases {
		if got := quoteIfNeeded(tc.in); got != tc.want {
			t.Fatalf("quoteIfNeeded(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}
