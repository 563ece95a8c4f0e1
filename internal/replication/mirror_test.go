package replication

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/reciperage/internal/domain/model"
	"github.com/okian/reciperage/internal/domain/order"
	"github.com/okian/reciperage/internal/domain/station"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMirror(t *testing.T) {
	Convey("Given a fresh mirror", t, func() {
		m := NewMirror()
		var changes []Change
		var events []model.Event
		var acks []Ack
		m.OnChange(func(c Change) { changes = append(changes, c) })
		m.OnEvent(func(e model.Event) { events = append(events, e) })
		m.OnAck(func(a Ack) { acks = append(acks, a) })

		Convey("When a delta arrives before any snapshot", func() {
			err := m.Apply(EncodeDelta(Delta{Seq: 1}))
			Convey("Then it is refused", func() {
				So(errors.Is(err, ErrNotSynced), ShouldBeTrue)
				So(m.Synced(), ShouldBeFalse)
			})
		})

		Convey("When an ack arrives", func() {
			So(m.Apply(EncodeAck(Ack{CommandID: "c-1", Reason: "busy"})), ShouldBeNil)
			Convey("Then ack listeners see it", func() {
				So(acks, ShouldResemble, []Ack{{CommandID: "c-1", Reason: "busy"}})
			})
		})

		Convey("When a snapshot is applied", func() {
			snap := sampleSnapshot()
			So(m.Apply(EncodeSnapshot(Snapshot{Seq: 5, State: snap})), ShouldBeNil)

			Convey("Then the accessors expose it", func() {
				So(m.Synced(), ShouldBeTrue)
				So(m.Seq(), ShouldEqual, 5)
				So(m.MatchID(), ShouldEqual, "m-1")
				So(m.Match().Score("red"), ShouldEqual, 40)
				So(m.Stations(), ShouldResemble, snap.Stations)
				So(m.Orders(), ShouldResemble, snap.Orders)
				st, ok := m.Station("grill-1")
				So(ok, ShouldBeTrue)
				So(st.State, ShouldEqual, station.InProgress)
				So(len(changes), ShouldEqual, 1+len(snap.Stations)+len(snap.Orders))
			})

			Convey("And the next delta is applied", func() {
				changes = nil
				grill := snap.Stations[0]
				grill.State = station.Completed
				grill.Progress = 0
				d := Delta{
					Seq: 6,
					Changes: []Change{
						{Kind: ChangeStation, Key: "grill-1", Station: grill},
						{Kind: ChangeOrderRemoved, Key: "o-1"},
						{Kind: ChangeOrder, Key: "o-2", Order: order.Order{ID: "o-2", RecipeID: "fries", TimeRemaining: time.Minute, Seq: 2}},
					},
					Events: []model.Event{{Type: model.EventOrderExpired, OrderID: "o-1"}},
				}
				So(m.Apply(EncodeDelta(d)), ShouldBeNil)

				Convey("Then state, listeners and sequence advance", func() {
					So(m.Seq(), ShouldEqual, 6)
					st, _ := m.Station("grill-1")
					So(st.State, ShouldEqual, station.Completed)
					So(m.Orders(), ShouldHaveLength, 1)
					So(m.Orders()[0].ID, ShouldEqual, "o-2")
					So(changes, ShouldResemble, d.Changes)
					So(events, ShouldResemble, d.Events)
				})

				Convey("And the same delta is replayed", func() {
					So(m.Apply(EncodeDelta(d)), ShouldBeNil)
					Convey("Then it is ignored", func() {
						So(m.Seq(), ShouldEqual, 6)
						So(len(changes), ShouldEqual, len(d.Changes))
					})
				})
			})

			Convey("And a delta skips a sequence number", func() {
				err := m.Apply(EncodeDelta(Delta{Seq: 7, Changes: []Change{{Kind: ChangeOrderRemoved, Key: "o-1"}}}))

				Convey("Then it is not applied and a resync is needed", func() {
					So(errors.Is(err, ErrSequenceGap), ShouldBeTrue)
					So(m.NeedsResync(), ShouldBeTrue)
					So(m.Orders(), ShouldHaveLength, 1)
				})

				Convey("Then later deltas are ignored until a snapshot arrives", func() {
					So(m.Apply(EncodeDelta(Delta{Seq: 8})), ShouldBeNil)
					So(m.Seq(), ShouldEqual, 5)

					fresh := sampleSnapshot()
					fresh.Orders = nil
					So(m.Apply(EncodeSnapshot(Snapshot{Seq: 8, State: fresh})), ShouldBeNil)
					So(m.NeedsResync(), ShouldBeFalse)
					So(m.Seq(), ShouldEqual, 8)
					So(m.Orders(), ShouldBeEmpty)
					So(changes[len(changes)-1], ShouldResemble, Change{Kind: ChangeOrderRemoved, Key: "o-1"})

					So(m.Apply(EncodeDelta(Delta{Seq: 9})), ShouldBeNil)
					So(m.Seq(), ShouldEqual, 9)
				})
			})
		})

		Convey("When garbage arrives", func() {
			err := m.Apply([]byte{0xff})
			Convey("Then it is rejected as malformed", func() {
				So(errors.Is(err, ErrMalformed), ShouldBeTrue)
			})
		})
	})
}
