package errtrail

import (
	"strings"
	"testing"
)

func TestParseStack_V8Format(t *testing.T) {
	stack := `Error: boom
    at processRequest (/app/server.js:42:13)
    at Layer.handle (/app/node_modules/express/lib/router/layer.js:95:5)
    at /app/server.js:10:3`

	frames := ParseStack(stack)
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3: %+v", len(frames), frames)
	}
	if frames[0].Function != "processRequest" || frames[0].File != "/app/server.js" || frames[0].Line != 42 || frames[0].Col != 13 {
		t.Errorf("frame[0] = %+v", frames[0])
	}
	if frames[2].Function != "" || frames[2].File != "/app/server.js" || frames[2].Line != 10 {
		t.Errorf("anonymous frame = %+v", frames[2])
	}
}

func TestParseStack_FirefoxFormat(t *testing.T) {
	stack := `handleClick@https://cdn.example.com/app.js:120:7
render@https://cdn.example.com/app.js:88:1
@https://cdn.example.com/main.js:5:2`

	frames := ParseStack(stack)
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3: %+v", len(frames), frames)
	}
	if frames[0].Function != "handleClick" || frames[0].Line != 120 || frames[0].Col != 7 {
		t.Errorf("frame[0] = %+v", frames[0])
	}
	if frames[2].Function != "" {
		t.Errorf("anonymous frame should have empty function: %+v", frames[2])
	}
}

func TestParseStack_SafariFormat(t *testing.T) {
	frames := ParseStack("doWork@app.js:15")
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Function != "doWork" || frames[0].Line != 15 || frames[0].Col != 0 {
		t.Errorf("frame = %+v", frames[0])
	}
}

func TestParseStack_GoFormat(t *testing.T) {
	stack := "goroutine 1 [running]:\n" +
		"main.doSomething(0x1234)\n" +
		"\t/app/main.go:42 +0x123\n" +
		"main.main()\n" +
		"\t/app/main.go:10 +0x456"

	frames := ParseStack(stack)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2: %+v", len(frames), frames)
	}
	if frames[0].Function != "main.doSomething" || frames[0].File != "/app/main.go" || frames[0].Line != 42 {
		t.Errorf("frame[0] = %+v", frames[0])
	}
	if frames[1].Function != "main.main" || frames[1].Line != 10 {
		t.Errorf("frame[1] = %+v", frames[1])
	}
}

func TestParseStack_SkipsUnparseableLines(t *testing.T) {
	stack := `Error: something failed
this line is garbage
    at handler (/app/a.js:1:1)
more garbage here`

	frames := ParseStack(stack)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1: %+v", len(frames), frames)
	}
}

func TestParseStack_Empty(t *testing.T) {
	if frames := ParseStack(""); frames != nil {
		t.Errorf("empty stack should produce nil, got %+v", frames)
	}
}

func TestSyntheticStack_ExcludesPipelineFrames(t *testing.T) {
	stack, frames := syntheticStack(0)
	if stack == "" {
		t.Fatal("synthetic stack should not be empty")
	}
	if len(frames) == 0 {
		t.Fatal("synthetic stack should have frames")
	}
	if strings.Contains(stack, "syntheticStack") {
		t.Error("synthetic stack should not contain its own frame")
	}
	// The test function itself should be visible.
	if !strings.Contains(stack, "TestSyntheticStack_ExcludesPipelineFrames") {
		t.Errorf("caller frame missing from stack:\n%s", stack)
	}
}
