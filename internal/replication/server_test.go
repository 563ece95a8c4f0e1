package replication

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/reciperage/internal/adapters/mq/queue"
	"github.com/okian/reciperage/internal/domain/match"
	"github.com/okian/reciperage/internal/domain/model"
	"github.com/okian/reciperage/internal/domain/recipe"
	"github.com/okian/reciperage/internal/domain/scoring"
	"github.com/okian/reciperage/internal/domain/station"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeTransport feeds every broadcast into a mirror and records direct sends.
type fakeTransport struct {
	mu         sync.Mutex
	mirror     *Mirror
	broadcasts int
	sent       map[string][][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{mirror: NewMirror(), sent: make(map[string][][]byte)}
}

func (f *fakeTransport) Broadcast(_ context.Context, frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts++
	_ = f.mirror.Apply(frame)
}

func (f *fakeTransport) Send(_ context.Context, clientID string, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[clientID] = append(f.sent[clientID], frame)
	return nil
}

func (f *fakeTransport) acks(clientID string) []Ack {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Ack
	for _, frame := range f.sent[clientID] {
		if msg, err := Decode(frame); err == nil && msg.Type == MsgAck {
			out = append(out, *msg.Ack)
		}
	}
	return out
}

func (f *fakeTransport) snapshots(clientID string) []Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Snapshot
	for _, frame := range f.sent[clientID] {
		if msg, err := Decode(frame); err == nil && msg.Type == MsgSnapshot {
			out = append(out, *msg.Snapshot)
		}
	}
	return out
}

func burgerKitchen(duration time.Duration) (*recipe.Catalog, *recipe.Level) {
	c, err := recipe.New(
		[]recipe.Recipe{{
			ID: "burger", BasePoints: 40, Difficulty: 2,
			Required: []recipe.IngredientRequirement{{Type: "bun", Count: 1}, {Type: "patty", Count: 1, MinQuality: 0.5}},
		}},
		[]recipe.Level{{
			ID: "test-kitchen", Duration: duration,
			MinOrderDelay: 20 * time.Millisecond, MaxOrderDelay: 40 * time.Millisecond,
			Recipes:  []string{"burger"},
			Stations: []recipe.StationSpec{
				{ID: "grill-1", CookTime: 2 * time.Second, BurnTime: time.Second},
				{ID: "pass-1", Kind: recipe.StationPlating, CookTime: time.Second},
				{ID: "bowl-1", Kind: recipe.StationMixing, CookTime: time.Second},
			},
		}},
	)
	if err != nil {
		panic(err)
	}
	l, _ := c.Level("test-kitchen")
	return c, l
}

func TestServerStep(t *testing.T) {
	Convey("Given a started server with a mirrored transport", t, func() {
		ctx := context.Background()
		c, l := burgerKitchen(time.Minute)
		tr := newFakeTransport()
		var results []model.MatchResult
		s := NewServer("m-1", l, c,
			WithTransport(tr),
			OnGameOver(func(_ context.Context, r model.MatchResult) { results = append(results, r) }),
		)
		So(tr.mirror.Apply(EncodeSnapshot(s.Latest())), ShouldBeNil)
		So(s.Start(ctx), ShouldBeNil)
		So(tr.mirror.Match().Phase, ShouldEqual, match.InGame)

		submit := func(client string, cmd Command) error {
			return s.Submit(ctx, Envelope{ClientID: client, Team: "red", Command: cmd})
		}

		Convey("When a cook is started and the station is ticked to completion", func() {
			So(submit("chef-a", Command{ID: "c-1", Kind: CmdStartCooking, StationID: "grill-1",
				Item: &model.InventoryItem{ItemID: "p-1", Type: "patty", Quality: 0.9}}), ShouldBeNil)
			s.Step(ctx, time.Second)

			Convey("Then the command is acked and the mirror tracks the station", func() {
				So(tr.acks("chef-a"), ShouldResemble, []Ack{{CommandID: "c-1", Accepted: true}})
				st, _ := tr.mirror.Station("grill-1")
				So(st.State, ShouldEqual, station.InProgress)
				So(st.Progress, ShouldEqual, 0.5)
			})

			Convey("And the dish is collected", func() {
				s.Step(ctx, time.Second)
				So(submit("chef-a", Command{ID: "c-2", Kind: CmdCollect, StationID: "grill-1"}), ShouldBeNil)
				s.Step(ctx, 0)

				Convey("Then the ack carries the dish and the station is idle again", func() {
					acks := tr.acks("chef-a")
					So(acks, ShouldHaveLength, 2)
					So(acks[1].Accepted, ShouldBeTrue)
					So(acks[1].HasItem, ShouldBeTrue)
					So(acks[1].Item.ItemID, ShouldEqual, "p-1")
					st, _ := tr.mirror.Station("grill-1")
					So(st.State, ShouldEqual, station.Idle)
				})
			})
		})

		Convey("When the same command id is submitted twice", func() {
			cmd := Command{ID: "c-1", Kind: CmdAttend, StationID: "grill-1"}
			So(submit("chef-a", cmd), ShouldBeNil)
			err := submit("chef-a", cmd)

			Convey("Then the retry is refused before it reaches the match", func() {
				So(errors.Is(err, ErrDuplicateCommand), ShouldBeTrue)
			})
		})

		Convey("When a command is invalid for the station's state", func() {
			So(submit("chef-a", Command{ID: "c-1", Kind: CmdResetStation, StationID: "grill-1"}), ShouldBeNil)
			So(submit("chef-a", Command{ID: "c-2", Kind: CmdCollect, StationID: "grill-1"}), ShouldBeNil)
			So(submit("chef-a", Command{ID: "c-3", Kind: CmdAttend, StationID: "fryer-9"}), ShouldBeNil)
			s.Step(ctx, 0)

			Convey("Then it is acked as rejected and nothing changes", func() {
				acks := tr.acks("chef-a")
				So(acks, ShouldHaveLength, 3)
				So(acks[0].Accepted, ShouldBeTrue) // reset on idle is a no-op
				So(acks[1].Accepted, ShouldBeFalse)
				So(acks[1].Reason, ShouldContainSubstring, "invalid station state")
				So(acks[2].Reason, ShouldContainSubstring, "unknown station")
				st, _ := tr.mirror.Station("grill-1")
				So(st.State, ShouldEqual, station.Idle)
			})
		})

		Convey("When a command is missing fields", func() {
			err := submit("chef-a", Command{ID: "c-1", Kind: CmdStartCooking, StationID: "grill-1"})
			Convey("Then Submit rejects it", func() {
				So(errors.Is(err, ErrInvalidCommand), ShouldBeTrue)
				So(errors.Is(submit("chef-a", Command{Kind: "dance"}), ErrUnknownCommand), ShouldBeTrue)
			})
		})

		Convey("When an order spawns and is delivered", func() {
			So(s.QueueSpawn(ctx), ShouldBeTrue)
			s.Step(ctx, 0)
			orders := tr.mirror.Orders()
			So(orders, ShouldHaveLength, 1)
			So(submit("chef-a", Command{ID: "c-1", Kind: CmdDeliverOrder, OrderID: orders[0].ID,
				IngredientIDs: []string{"bun", "patty"}}), ShouldBeNil)
			var events []model.Event
			tr.mirror.OnEvent(func(e model.Event) { events = append(events, e) })
			s.Step(ctx, 0)

			Convey("Then the team scores the reward and the order is gone", func() {
				So(tr.acks("chef-a")[0].Accepted, ShouldBeTrue)
				So(tr.mirror.Match().Score("red"), ShouldEqual, 40)
				So(tr.mirror.Orders(), ShouldBeEmpty)
				So(events[0].Type, ShouldEqual, model.EventOrderDelivered)
				So(s.Latest().State.View.Score("red"), ShouldEqual, 40)
			})
		})

		Convey("When a tray is plated into a burger", func() {
			So(submit("chef-a", Command{ID: "c-1", Kind: CmdAddIngredient, StationID: "pass-1",
				Item: &model.InventoryItem{ItemID: "b-1", Type: "bun", Quality: 0.8}}), ShouldBeNil)
			So(submit("chef-a", Command{ID: "c-2", Kind: CmdAddIngredient, StationID: "pass-1",
				Item: &model.InventoryItem{ItemID: "p-1", Type: "patty", Quality: 0.9}}), ShouldBeNil)
			s.Step(ctx, 0)
			tray, _ := tr.mirror.Station("pass-1")

			So(submit("chef-a", Command{ID: "c-3", Kind: CmdStartPlating, StationID: "pass-1", RecipeID: "burger"}), ShouldBeNil)
			s.Step(ctx, 0)
			plating, _ := tr.mirror.Station("pass-1")

			var events []model.Event
			tr.mirror.OnEvent(func(e model.Event) { events = append(events, e) })
			s.Step(ctx, time.Second)

			r, _ := c.Recipe("burger")
			quality := min(1, scoring.CalculateQuality(r, tray.Tray, 1)+0.15)
			points := scoring.CalculatePoints(r, quality)

			Convey("Then the mirror shows the tray and the recipe being plated", func() {
				So(tray.State, ShouldEqual, station.Idle)
				So(tray.Tray, ShouldHaveLength, 2)
				So(tray.Tray[1].ItemID, ShouldEqual, "p-1")
				So(plating.State, ShouldEqual, station.InProgress)
				So(plating.RecipeID, ShouldEqual, "burger")
			})

			Convey("Then the plating team scores when the dish is done", func() {
				for _, a := range tr.acks("chef-a") {
					So(a.Accepted, ShouldBeTrue)
				}
				done, _ := tr.mirror.Station("pass-1")
				So(done.State, ShouldEqual, station.Completed)
				So(done.Tray, ShouldBeEmpty)
				So(done.Quality, ShouldAlmostEqual, quality, 1e-9)
				So(points, ShouldBeGreaterThan, 0)
				So(tr.mirror.Match().Score("red"), ShouldEqual, points)

				var plated []model.Event
				for _, e := range events {
					if e.Type == model.EventDishPlated {
						plated = append(plated, e)
					}
				}
				So(plated, ShouldHaveLength, 1)
				So(plated[0].Team, ShouldEqual, "red")
				So(plated[0].Points, ShouldEqual, points)
			})

			Convey("And the plated burger is delivered", func() {
				So(submit("chef-a", Command{ID: "c-4", Kind: CmdCollect, StationID: "pass-1"}), ShouldBeNil)
				So(s.QueueSpawn(ctx), ShouldBeTrue)
				s.Step(ctx, 0)
				dish := tr.acks("chef-a")[3].Item
				orders := tr.mirror.Orders()
				So(orders, ShouldHaveLength, 1)
				So(submit("chef-a", Command{ID: "c-5", Kind: CmdDeliverOrder, OrderID: orders[0].ID,
					IngredientIDs: []string{string(dish.Type)}}), ShouldBeNil)
				s.Step(ctx, 0)

				Convey("Then the order pays on top of the plating points", func() {
					So(dish.Type, ShouldEqual, model.IngredientType("burger"))
					So(tr.acks("chef-a")[4].Accepted, ShouldBeTrue)
					So(tr.mirror.Match().Score("red"), ShouldEqual, points+40)
					So(tr.mirror.Orders(), ShouldBeEmpty)
				})
			})
		})

		Convey("When plating commands are malformed or misplaced", func() {
			err := submit("chef-a", Command{ID: "c-1", Kind: CmdStartPlating, StationID: "pass-1"})
			So(errors.Is(err, ErrInvalidCommand), ShouldBeTrue)
			err = submit("chef-a", Command{ID: "c-2", Kind: CmdAddIngredient, StationID: "pass-1"})
			So(errors.Is(err, ErrInvalidCommand), ShouldBeTrue)

			So(submit("chef-a", Command{ID: "c-3", Kind: CmdStartPlating, StationID: "pass-1", RecipeID: "burger"}), ShouldBeNil)
			So(submit("chef-a", Command{ID: "c-4", Kind: CmdAddIngredient, StationID: "grill-1",
				Item: &model.InventoryItem{Type: "bun", Quality: 1}}), ShouldBeNil)
			s.Step(ctx, 0)

			Convey("Then the server acks them as rejected", func() {
				acks := tr.acks("chef-a")
				So(acks, ShouldHaveLength, 2)
				So(acks[0].Accepted, ShouldBeFalse)
				So(acks[0].Reason, ShouldContainSubstring, "not enough ingredients")
				So(acks[1].Accepted, ShouldBeFalse)
				So(acks[1].Reason, ShouldContainSubstring, "wrong station kind")
				st, _ := tr.mirror.Station("pass-1")
				So(st.State, ShouldEqual, station.Idle)
			})
		})

		Convey("When two ingredients are mixed", func() {
			So(submit("chef-a", Command{ID: "c-1", Kind: CmdAddIngredient, StationID: "bowl-1",
				Item: &model.InventoryItem{Type: "bun", Quality: 0.5}}), ShouldBeNil)
			So(submit("chef-a", Command{ID: "c-2", Kind: CmdAddIngredient, StationID: "bowl-1",
				Item: &model.InventoryItem{Type: "patty", Quality: 0.7}}), ShouldBeNil)
			So(submit("chef-a", Command{ID: "c-3", Kind: CmdStartMixing, StationID: "bowl-1"}), ShouldBeNil)
			s.Step(ctx, 0)
			s.Step(ctx, time.Second)
			So(submit("chef-a", Command{ID: "c-4", Kind: CmdCollect, StationID: "bowl-1"}), ShouldBeNil)
			s.Step(ctx, 0)

			Convey("Then the bowl hands back one mixed ingredient", func() {
				acks := tr.acks("chef-a")
				So(acks, ShouldHaveLength, 4)
				So(acks[3].HasItem, ShouldBeTrue)
				So(acks[3].Item.Type, ShouldEqual, model.Mixed)
				So(acks[3].Item.Quality, ShouldAlmostEqual, 0.72, 1e-9)
				So(tr.mirror.Match().Score("red"), ShouldEqual, 0)
				st, _ := tr.mirror.Station("bowl-1")
				So(st.State, ShouldEqual, station.Idle)
			})
		})

		Convey("When a bound client names another team in its command", func() {
			So(s.QueueSpawn(ctx), ShouldBeTrue)
			So(s.QueueSpawn(ctx), ShouldBeTrue)
			s.Step(ctx, 0)
			orders := tr.mirror.Orders()
			So(orders, ShouldHaveLength, 2)
			So(submit("chef-a", Command{ID: "c-1", Kind: CmdDeliverOrder, OrderID: orders[0].ID,
				IngredientIDs: []string{"bun", "patty"}, Team: "blue"}), ShouldBeNil)
			So(s.Submit(ctx, Envelope{ClientID: "chef-a", Command: Command{ID: "c-2", Kind: CmdDeliverOrder,
				OrderID: orders[1].ID, IngredientIDs: []string{"bun", "patty"}, Team: "blue"}}), ShouldBeNil)
			So(s.Submit(ctx, Envelope{ClientID: "chef-h", Command: Command{ID: "c-3", Kind: CmdEndGame, Team: "blue"}}), ShouldBeNil)
			s.Step(ctx, 0)

			Convey("Then the points and the player stay with the bound team", func() {
				So(tr.mirror.Match().Score("red"), ShouldEqual, 80)
				So(tr.mirror.Match().Score("blue"), ShouldEqual, 0)
				So(results, ShouldHaveLength, 1)
				So(results[0].Players, ShouldResemble, map[string]string{"chef-a": "red", "chef-h": "blue"})
			})
		})

		Convey("When a client asks for a snapshot", func() {
			s.Step(ctx, time.Second)
			So(submit("chef-b", Command{Kind: CmdRequestSnapshot}), ShouldBeNil)
			s.Step(ctx, time.Second)

			Convey("Then it receives one matching the last broadcast", func() {
				snaps := tr.snapshots("chef-b")
				So(snaps, ShouldHaveLength, 1)
				So(snaps[0].Seq, ShouldEqual, tr.mirror.Seq()-1)
				So(snaps[0].State.View.Remaining, ShouldEqual, time.Minute-time.Second)
				So(tr.acks("chef-b"), ShouldBeEmpty)
			})
		})

		Convey("When a client ends the game", func() {
			So(submit("chef-a", Command{ID: "c-9", Kind: CmdEndGame}), ShouldBeNil)
			s.Step(ctx, 0)
			s.Step(ctx, time.Second)

			Convey("Then game over is reported exactly once and new work is refused", func() {
				So(results, ShouldHaveLength, 1)
				So(results[0].MatchID, ShouldEqual, "m-1")
				So(results[0].Players, ShouldResemble, map[string]string{"chef-a": "red"})
				So(tr.mirror.Match().Phase, ShouldEqual, match.GameOver)
				So(s.Finished(), ShouldBeTrue)
				So(s.QueueSpawn(ctx), ShouldBeFalse)
				So(errors.Is(submit("chef-a", Command{Kind: CmdEndGame}), ErrMatchOver), ShouldBeTrue)
			})
		})
	})

	Convey("Given a server whose inbox holds one command", t, func() {
		c, l := burgerKitchen(time.Minute)
		s := NewServer("m-2", l, c, WithInbox(queue.NewInMemoryQueue[Envelope](queue.WithCapacity(1))))
		ctx := context.Background()
		So(s.Submit(ctx, Envelope{ClientID: "a", Command: Command{ID: "c-1", Kind: CmdEndGame}}), ShouldBeNil)

		Convey("When another command arrives", func() {
			err := s.Submit(ctx, Envelope{ClientID: "a", Command: Command{ID: "c-2", Kind: CmdEndGame}})

			Convey("Then it is dropped but may be retried under the same id", func() {
				So(errors.Is(err, ErrInboxFull), ShouldBeTrue)
				s.Step(ctx, 0)
				So(s.Submit(ctx, Envelope{ClientID: "a", Command: Command{ID: "c-2", Kind: CmdEndGame}}), ShouldBeNil)
			})
		})
	})
}

func TestServerRun(t *testing.T) {
	Convey("Given a short match", t, func() {
		c, l := burgerKitchen(300 * time.Millisecond)
		tr := newFakeTransport()
		over := make(chan model.MatchResult, 1)
		s := NewServer("m-3", l, c,
			WithTransport(tr),
			WithTickInterval(10*time.Millisecond),
			OnGameOver(func(_ context.Context, r model.MatchResult) { over <- r }),
		)
		So(tr.mirror.Apply(EncodeSnapshot(s.Latest())), ShouldBeNil)

		Convey("When it runs to completion", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := s.Run(ctx)

			Convey("Then the loop ends at game over and the mirror followed it", func() {
				So(err, ShouldBeNil)
				So(s.Finished(), ShouldBeTrue)
				So(len(over), ShouldEqual, 1)
				So(tr.mirror.Match().Phase, ShouldEqual, match.GameOver)
				So(tr.mirror.Match().Remaining, ShouldEqual, 0)
				So(tr.mirror.NeedsResync(), ShouldBeFalse)
				So(tr.mirror.Seq(), ShouldEqual, s.Latest().Seq)
				So(tr.broadcasts, ShouldBeGreaterThan, 2)
				select {
				case <-s.Done():
				default:
					t.Fatal("done channel not closed")
				}
			})
		})

		Convey("When its context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			err := s.Run(ctx)

			Convey("Then Run returns the cancellation", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
				So(s.Finished(), ShouldBeFalse)
			})
		})
	})
}
