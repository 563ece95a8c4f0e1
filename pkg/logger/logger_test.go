package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	Convey("Given the global logger", t, func() {
		Convey("When initialized with defaults", func() {
			So(Init(), ShouldBeNil)
			Convey("Then Get returns a usable logger", func() {
				So(Get(), ShouldNotBeNil)
				So(Sync(), ShouldBeNil)
			})
		})

		Convey("When initialized with an unknown format", func() {
			err := Init(WithFormat("xml"))
			Convey("Then an error is returned", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestLoggerOutput(t *testing.T) {
	Convey("Given a JSON logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		So(Init(WithWriter(&buf), WithFormat("json")), ShouldBeNil)
		ctx := context.Background()

		Convey("When a record with typed fields is written", func() {
			Get().Info(ctx, "station transition",
				String("station", "grill-1"),
				Int("tick", 7),
				Bool("attended", true),
				Duration("dt", 50*time.Millisecond),
				Error(errors.New("boom")),
			)

			var rec map[string]any
			So(json.Unmarshal(buf.Bytes(), &rec), ShouldBeNil)

			Convey("Then every field is present", func() {
				So(rec["msg"], ShouldEqual, "station transition")
				So(rec["station"], ShouldEqual, "grill-1")
				So(rec["tick"], ShouldEqual, float64(7))
				So(rec["attended"], ShouldEqual, true)
				So(rec["source"], ShouldContainSubstring, "logger_test.go")
			})
		})

		Convey("When the level is raised to error", func() {
			So(SetLevelString("error"), ShouldBeNil)
			Get().Warn(ctx, "ignored")
			Convey("Then lower records are dropped", func() {
				So(buf.Len(), ShouldEqual, 0)
			})
			So(SetLevelString("info"), ShouldBeNil)
		})

		Convey("When a named logger with fields is used", func() {
			Named("match").With(String("match_id", "m-1")).Info(ctx, "tick")
			Convey("Then the group and the bound fields are emitted", func() {
				out := buf.String()
				So(out, ShouldContainSubstring, `"match"`)
				So(out, ShouldContainSubstring, "m-1")
			})
		})
	})
}

func TestSetLevelString(t *testing.T) {
	for _, lvl := range []string{"debug", "INFO", " warn ", "warning", "error", ""} {
		if err := SetLevelString(lvl); err != nil {
			t.Fatalf("level %q: %v", lvl, err)
		}
	}
	if err := SetLevelString("verbose"); err == nil || !strings.Contains(err.Error(), "unknown") {
		t.Fatalf("expected unknown level error, got %v", err)
	}
	_ = SetLevelString("info")
}

func TestNop(t *testing.T) {
	l := NewNop()
	l.Error(context.Background(), "discarded", String("k", "v"))
	l.Fatal(context.Background(), "does not exit")
	if l.Named("x").With(Int("n", 1)) == nil {
		t.Fatal("nop logger returned nil")
	}
}
