package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/okian/reciperage/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new deduper", t, func() {
		d := dedupe.NewInMemoryDeduper()
		So(d.Size(), ShouldEqual, 0)

		Convey("When a command id is recorded twice", func() {
			first := d.SeenAndRecord(ctx, "cmd-1")
			second := d.SeenAndRecord(ctx, "cmd-1")

			Convey("Then only the retry is reported as seen", func() {
				So(first, ShouldBeFalse)
				So(second, ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When an id is unrecorded", func() {
			d.SeenAndRecord(ctx, "cmd-1")
			d.Unrecord(ctx, "cmd-1")
			d.Unrecord(ctx, "missing")

			Convey("Then it can be recorded again", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "cmd-1"), ShouldBeFalse)
			})
		})

		Convey("When the empty id is offered", func() {
			Convey("Then it is never remembered", func() {
				So(d.SeenAndRecord(ctx, ""), ShouldBeFalse)
				So(d.SeenAndRecord(ctx, ""), ShouldBeFalse)
				So(d.Size(), ShouldEqual, 0)
			})
		})
	})

	Convey("Given a bounded deduper of three ids", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
		for _, id := range []string{"cmd-1", "cmd-2", "cmd-3", "cmd-4"} {
			So(d.SeenAndRecord(ctx, id), ShouldBeFalse)
		}

		Convey("Then the oldest id was evicted first", func() {
			So(d.Size(), ShouldEqual, 3)
			So(d.SeenAndRecord(ctx, "cmd-4"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "cmd-3"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "cmd-2"), ShouldBeTrue)
			So(d.SeenAndRecord(ctx, "cmd-1"), ShouldBeFalse)
			So(d.Size(), ShouldEqual, 3)
		})

		Convey("When an id in the middle is unrecorded", func() {
			d.Unrecord(ctx, "cmd-3")

			Convey("Then the freed slot is reused without evicting a live id early", func() {
				So(d.Size(), ShouldEqual, 2)
				So(d.SeenAndRecord(ctx, "cmd-5"), ShouldBeFalse)
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "cmd-4"), ShouldBeTrue)
			})
		})
	})

	Convey("Given an unbounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(-1))
		for i := range 1000 {
			d.SeenAndRecord(ctx, fmt.Sprintf("cmd-%d", i))
		}

		Convey("Then nothing is evicted", func() {
			So(d.Size(), ShouldEqual, 1000)
			So(d.SeenAndRecord(ctx, "cmd-0"), ShouldBeTrue)
		})
	})
}

func TestDedupeConcurrency(t *testing.T) {
	Convey("Given a deduper shared by many transports", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(1000))
		const clients, perClient = 10, 100

		Convey("When every client retries each command once", func() {
			var wg sync.WaitGroup
			var mu sync.Mutex
			fresh := 0
			for c := range clients {
				wg.Add(1)
				go func(c int) {
					defer wg.Done()
					for j := range perClient {
						id := fmt.Sprintf("chef-%d/cmd-%d", c, j)
						for range 2 {
							if !d.SeenAndRecord(context.Background(), id) {
								mu.Lock()
								fresh++
								mu.Unlock()
							}
						}
					}
				}(c)
			}
			wg.Wait()

			Convey("Then each command is fresh exactly once", func() {
				So(fresh, ShouldEqual, clients*perClient)
				So(d.Size(), ShouldEqual, clients*perClient)
			})
		})
	})
}
