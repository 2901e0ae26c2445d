// stack.go parses and synthesizes stack traces.
//
// Incoming events may carry stacks produced by foreign runtimes (the pipeline
// ingests errors forwarded from browser and mobile clients), so the parser
// understands the V8 ("at fn (file:line:col)"), Firefox ("fn@file:line:col"),
// and Safari ("fn@file:line") formats in addition to Go's own runtime format.
// Unparseable lines are skipped, never an error.

package errtrail

import (
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

var (
	// V8: "at fn (file:line:col)", "at file:line:col", "at fn (file:line)"
	v8FramePattern = regexp.MustCompile(`^at\s+(?:(.+?)\s+\()?([^()\s]+?):(\d+)(?::(\d+))?\)?$`)

	// Firefox / Safari: "fn@file:line:col", "fn@file:line", "@file:line"
	atFramePattern = regexp.MustCompile(`^(.*?)@(.+?):(\d+)(?::(\d+))?$`)

	// Go runtime file lines: "\t/path/file.go:42 +0x1b9"
	goFilePattern = regexp.MustCompile(`^(.+?\.go):(\d+)(?:\s+\+0x[0-9a-f]+)?$`)
)

// ParseStack extracts frames from a stack-trace string. Lines that match no
// known format are skipped silently.
func ParseStack(stack string) []Frame {
	if stack == "" {
		return nil
	}

	var frames []Frame
	var pendingFunc string

	for _, raw := range strings.Split(stack, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "goroutine ") {
			pendingFunc = ""
			continue
		}

		// Go format: a file line following a function line.
		if strings.HasPrefix(raw, "\t") {
			if m := goFilePattern.FindStringSubmatch(line); m != nil && pendingFunc != "" {
				n, _ := strconv.Atoi(m[2])
				frames = append(frames, Frame{Function: pendingFunc, File: m[1], Line: n})
			}
			pendingFunc = ""
			continue
		}

		if m := v8FramePattern.FindStringSubmatch(line); m != nil {
			frames = append(frames, frameFromMatch(m))
			pendingFunc = ""
			continue
		}
		if m := atFramePattern.FindStringSubmatch(line); m != nil {
			frames = append(frames, frameFromMatch(m))
			pendingFunc = ""
			continue
		}

		// Possibly a Go function line ("pkg.fn(0x0, ...)"); remember it for
		// the file line that follows.
		pendingFunc = trimCallArgs(line)
	}
	return frames
}

func frameFromMatch(m []string) Frame {
	line, _ := strconv.Atoi(m[3])
	col := 0
	if m[4] != "" {
		col, _ = strconv.Atoi(m[4])
	}
	return Frame{Function: strings.TrimSpace(m[1]), File: m[2], Line: line, Col: col}
}

func trimCallArgs(fn string) string {
	if idx := strings.Index(fn, "("); idx > 0 {
		return fn[:idx]
	}
	return fn
}

// syntheticStack builds a stack trace from the current goroutine, skipping
// the given number of frames plus the pipeline's own normalization frames.
// This guarantees every event has a usable stack even for string inputs.
func syntheticStack(skip int) (string, []Frame) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return "", nil
	}

	var b strings.Builder
	var frames []Frame
	it := runtime.CallersFrames(pcs[:n])
	for {
		fr, more := it.Next()
		if fr.File != "" && !isNormalizerFrame(fr.Function) {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(fr.Function)
			b.WriteString("()\n\t")
			b.WriteString(fr.File)
			b.WriteString(":")
			b.WriteString(strconv.Itoa(fr.Line))
			frames = append(frames, Frame{Function: fr.Function, File: fr.File, Line: fr.Line})
		}
		if !more {
			break
		}
	}
	return b.String(), frames
}

// isNormalizerFrame reports whether a function belongs to the capture
// machinery itself. Those frames are stripped so the application call site
// stays on top.
func isNormalizerFrame(fn string) bool {
	short := fn[strings.LastIndex(fn, "/")+1:]
	return strings.Contains(short, "errtrail.syntheticStack") ||
		strings.Contains(short, "errtrail.(*Normalizer).") ||
		strings.Contains(short, "errtrail.Normalize") ||
		strings.Contains(short, "errtrail.(*Pipeline).Capture")
}
