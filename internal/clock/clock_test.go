package clock

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestManualClock(t *testing.T) {
	Convey("Given a manual clock", t, func() {
		start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
		c := NewManual(start)

		Convey("When a waiter is registered", func() {
			ch := c.After(2 * time.Second)
			So(c.Waiters(), ShouldEqual, 1)

			Convey("Then it does not fire before the deadline", func() {
				c.Advance(1999 * time.Millisecond)
				select {
				case <-ch:
					t.Fatal("fired early")
				default:
				}
				So(c.Waiters(), ShouldEqual, 1)
			})

			Convey("Then it fires once the deadline passes", func() {
				c.Advance(2 * time.Second)
				So(<-ch, ShouldEqual, start.Add(2*time.Second))
				So(c.Waiters(), ShouldEqual, 0)
			})
		})

		Convey("When After is called with a non-positive duration", func() {
			ch := c.After(0)
			Convey("Then it is ready immediately", func() {
				So(<-ch, ShouldEqual, start)
			})
		})
	})

	Convey("The real clock moves forward", t, func() {
		var c Clock = RealClock{}
		before := c.Now()
		<-c.After(time.Millisecond)
		So(c.Now().After(before), ShouldBeTrue)
	})
}
