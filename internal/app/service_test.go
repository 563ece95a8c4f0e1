package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/reciperage/internal/adapters/persistence"
	service "github.com/okian/reciperage/internal/app"
	"github.com/okian/reciperage/internal/domain/match"
	"github.com/okian/reciperage/internal/domain/recipe"
	"github.com/okian/reciperage/internal/replication"
	"github.com/okian/reciperage/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func testKitchen() *recipe.Catalog {
	c, err := recipe.New(
		[]recipe.Recipe{{
			ID: "burger", BasePoints: 40, Difficulty: 2,
			Required: []recipe.IngredientRequirement{{Type: "bun", Count: 1}, {Type: "patty", Count: 1}},
		}},
		[]recipe.Level{{
			ID: "test-kitchen", Duration: time.Minute,
			MinOrderDelay: 10 * time.Millisecond, MaxOrderDelay: 20 * time.Millisecond,
			Recipes:  []string{"burger"},
			Stations: []recipe.StationSpec{{ID: "grill-1"}},
		}},
	)
	if err != nil {
		panic(err)
	}
	return c
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func newService(opts ...service.Option) *service.Service {
	base := []service.Option{
		service.WithLevel("test-kitchen"),
		service.WithTickInterval(5 * time.Millisecond),
	}
	return service.New(testKitchen(), append(base, opts...)...)
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc := newService()

		Convey("When it is used before Start", func() {
			_, err := svc.StartMatch(ctx, "")
			Convey("Then every call reports ErrNotStarted", func() {
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
				So(errors.Is(svc.Submit(ctx, replication.Envelope{}), service.ErrNotStarted), ShouldBeTrue)
				_, err = svc.TopN(ctx, 10)
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})

		Convey("When it is started", func() {
			So(svc.Start(ctx), ShouldBeNil)
			defer func() { _ = svc.Stop(ctx) }()

			Convey("Then it is marked as started without a match", func() {
				So(svc.GetStats()["started"], ShouldEqual, true)
				_, err := svc.Snapshot(ctx)
				So(errors.Is(err, service.ErrNoMatch), ShouldBeTrue)
			})

			Convey("Then an unknown level is refused", func() {
				_, err := svc.StartMatch(ctx, "moon-base")
				So(errors.Is(err, recipe.ErrUnknownLevel), ShouldBeTrue)
			})

			Convey("Then only one match runs at a time", func() {
				id, err := svc.StartMatch(ctx, "")
				So(err, ShouldBeNil)
				So(id, ShouldNotBeEmpty)
				_, err = svc.StartMatch(ctx, "")
				So(errors.Is(err, service.ErrMatchInProgress), ShouldBeTrue)
			})
		})

		Convey("When it is stopped during a match", func() {
			So(svc.Start(ctx), ShouldBeNil)
			_, err := svc.StartMatch(ctx, "")
			So(err, ShouldBeNil)
			So(svc.Stop(ctx), ShouldBeNil)

			Convey("Then it is marked as stopped", func() {
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})
	})
}

func TestService_PlayedMatch(t *testing.T) {
	Convey("Given a running match with station workers", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store := persistence.NewMemory()
		svc := newService(service.WithStore(store), service.WithStationWorkers(2))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		id, err := svc.StartMatch(ctx, "")
		So(err, ShouldBeNil)

		Convey("When a chef delivers an order and ends the game", func() {
			var orderID string
			So(eventually(func() bool {
				snap, err := svc.Snapshot(ctx)
				if err != nil || len(snap.State.Orders) == 0 {
					return false
				}
				orderID = snap.State.Orders[0].ID
				return true
			}), ShouldBeTrue)

			So(svc.Submit(ctx, replication.Envelope{ClientID: "chef-a", Team: "red", Command: replication.Command{
				ID: "d-1", Kind: replication.CmdDeliverOrder, OrderID: orderID, IngredientIDs: []string{"bun", "patty"},
			}}), ShouldBeNil)
			So(svc.Submit(ctx, replication.Envelope{ClientID: "chef-b", Team: "blue", Command: replication.Command{
				ID: "a-1", Kind: replication.CmdAttend, StationID: "grill-1",
			}}), ShouldBeNil)
			So(eventually(func() bool {
				snap, _ := svc.Snapshot(ctx)
				return snap.State.View.Score("red") == 40
			}), ShouldBeTrue)
			So(svc.Submit(ctx, replication.Envelope{ClientID: "chef-a", Team: "red", Command: replication.Command{
				ID: "e-1", Kind: replication.CmdEndGame,
			}}), ShouldBeNil)
			So(svc.Wait(ctx), ShouldBeNil)

			Convey("Then the final state is game over", func() {
				snap, err := svc.Snapshot(ctx)
				So(err, ShouldBeNil)
				So(snap.State.View.Phase, ShouldEqual, match.GameOver)
			})

			Convey("Then the result is persisted", func() {
				So(eventually(func() bool { _, ok := svc.LastResult(); return ok }), ShouldBeTrue)
				res, err := svc.MatchResult(ctx, id)
				So(err, ShouldBeNil)
				So(res.TeamScoreOf("red"), ShouldEqual, 40)
				So(res.Delivered, ShouldEqual, 1)
				So(res.Players, ShouldResemble, map[string]string{"chef-a": "red", "chef-b": "blue"})
			})

			Convey("Then every player's progression is updated", func() {
				So(eventually(func() bool { _, ok := svc.LastResult(); return ok }), ShouldBeTrue)
				p, err := svc.Progression(ctx, "chef-a")
				So(err, ShouldBeNil)
				So(p.Trophies, ShouldEqual, 40)
				So(p.MatchesPlayed, ShouldEqual, 1)
				So(p.LastMatchID, ShouldEqual, id)

				p, err = svc.Progression(ctx, "chef-b")
				So(err, ShouldBeNil)
				So(p.Trophies, ShouldEqual, 0)
				So(p.MatchesPlayed, ShouldEqual, 1)
			})

			Convey("Then the leaderboard ranks the players", func() {
				So(eventually(func() bool { _, ok := svc.LastResult(); return ok }), ShouldBeTrue)
				top, err := svc.TopN(ctx, 10)
				So(err, ShouldBeNil)
				So(top, ShouldHaveLength, 2)
				So(top[0].PlayerID, ShouldEqual, "chef-a")
				So(top[0].Score, ShouldEqual, 40)

				e, err := svc.Rank(ctx, "chef-b")
				So(err, ShouldBeNil)
				So(e.Rank, ShouldEqual, 2)
			})

			Convey("Then a new match can start", func() {
				next, err := svc.StartMatch(ctx, "")
				So(err, ShouldBeNil)
				So(next, ShouldNotEqual, id)
			})
		})

		Convey("When a command is repeated", func() {
			env := replication.Envelope{ClientID: "chef-a", Team: "red", Command: replication.Command{
				ID: "x-1", Kind: replication.CmdAttend, StationID: "grill-1",
			}}
			So(svc.Submit(ctx, env), ShouldBeNil)

			Convey("Then the duplicate is reported", func() {
				So(errors.Is(svc.Submit(ctx, env), replication.ErrDuplicateCommand), ShouldBeTrue)
			})
		})

		Convey("When progression is asked for an unknown player", func() {
			_, err := svc.Progression(ctx, "nobody")
			Convey("Then ErrNotFound is returned", func() {
				So(errors.Is(err, persistence.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}
