package station_test

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/okian/reciperage/internal/domain/model"
	"github.com/okian/reciperage/internal/domain/recipe"
	"github.com/okian/reciperage/internal/domain/station"
	. "github.com/smartystreets/goconvey/convey"
)

func grill() *station.Station {
	return station.New(recipe.StationSpec{ID: "grill-1", Kind: recipe.StationCooking, CookTime: 10 * time.Second, BurnTime: 5 * time.Second})
}

func patty(q float64) model.InventoryItem {
	return model.InventoryItem{ItemID: "i-1", Type: "patty", Quality: q}
}

func tickN(s *station.Station, n int, dt time.Duration) []station.Transition {
	var out []station.Transition
	for range n {
		if tr, ok := s.Tick(dt); ok {
			out = append(out, tr)
		}
	}
	return out
}

func TestCookingLifecycle(t *testing.T) {
	Convey("Given a grill with cook 10s and burn 5s", t, func() {
		s := grill()
		So(s.State(), ShouldEqual, station.Idle)

		Convey("When a patty is started", func() {
			So(s.Start(patty(0.9), station.Timing{}), ShouldBeNil)
			So(s.State(), ShouldEqual, station.InProgress)
			So(s.Progress(), ShouldEqual, 0)

			Convey("And 10 seconds pass in one-second ticks", func() {
				trs := tickN(s, 10, time.Second)

				Convey("Then it is completed with progress reset to zero", func() {
					So(s.State(), ShouldEqual, station.Completed)
					So(s.Progress(), ShouldEqual, 0)
					So(trs, ShouldResemble, []station.Transition{{StationID: "grill-1", Kind: recipe.StationCooking, From: station.InProgress, To: station.Completed}})
				})

				Convey("And 5 more unattended seconds pass", func() {
					tickN(s, 5, time.Second)

					Convey("Then it is burned with zero quality", func() {
						So(s.State(), ShouldEqual, station.Burned)
						So(s.Quality(), ShouldEqual, 0)
					})
				})

				Convey("And the dish is collected", func() {
					dish, err := s.Collect()
					So(err, ShouldBeNil)
					So(dish.Type, ShouldEqual, model.IngredientType("patty"))
					So(dish.Quality, ShouldBeGreaterThan, 0)
					So(s.State(), ShouldEqual, station.Idle)
					So(s.Snapshot().HasItem, ShouldBeFalse)
				})
			})

			Convey("And 9.9 seconds pass", func() {
				tickN(s, 99, 100*time.Millisecond)
				Convey("Then it is still cooking", func() {
					So(s.State(), ShouldEqual, station.InProgress)
					So(s.Progress(), ShouldAlmostEqual, 0.99, 1e-9)
				})
			})
		})

		Convey("When a custom timing is used for the cook", func() {
			So(s.Start(patty(0.9), station.Timing{Cook: 2 * time.Second, Burn: time.Second}), ShouldBeNil)
			tickN(s, 2, time.Second)
			So(s.State(), ShouldEqual, station.Completed)
			tickN(s, 1, time.Second)
			So(s.State(), ShouldEqual, station.Burned)
		})
	})
}

func TestNoSkippedStates(t *testing.T) {
	Convey("Given a grill", t, func() {
		s := grill()

		Convey("When an idle station ticks for a long time", func() {
			_, changed := s.Tick(time.Hour)
			Convey("Then it stays idle", func() {
				So(changed, ShouldBeFalse)
				So(s.State(), ShouldEqual, station.Idle)
			})
		})

		Convey("When a cooking station receives one enormous tick", func() {
			So(s.Start(patty(0.8), station.Timing{}), ShouldBeNil)
			tr, changed := s.Tick(time.Hour)
			Convey("Then it advances exactly one state", func() {
				So(changed, ShouldBeTrue)
				So(tr.From, ShouldEqual, station.InProgress)
				So(tr.To, ShouldEqual, station.Completed)
			})
		})

		Convey("When random ticks and commands are applied", func() {
			rng := rand.New(rand.NewSource(3))
			Convey("Then every transition is one forward step or an explicit return to idle", func() {
				for range 5000 {
					before := s.State()
					switch rng.Intn(5) {
					case 0:
						_ = s.Start(patty(rng.Float64()), station.Timing{})
					case 1:
						_ = s.Attend()
					case 2:
						_, _ = s.Collect()
					case 3:
						_ = s.Reset()
					default:
						if tr, ok := s.Tick(time.Duration(rng.Intn(4000)) * time.Millisecond); ok {
							So(tr.To, ShouldEqual, tr.From+1)
						}
					}
					after := s.State()
					if after != before && after != before+1 {
						So(after, ShouldEqual, station.Idle)
						So(before == station.Completed || before == station.Burned, ShouldBeTrue)
					}
					So(s.Quality(), ShouldBeBetweenOrEqual, 0, 1)
					So(s.Progress(), ShouldBeBetweenOrEqual, 0, 1)
				}
			})
		})
	})
}

func TestResetAndRejections(t *testing.T) {
	Convey("Given a burned grill", t, func() {
		s := grill()
		So(s.Start(patty(0.7), station.Timing{}), ShouldBeNil)
		s.Tick(10 * time.Second)
		s.Tick(5 * time.Second)
		So(s.State(), ShouldEqual, station.Burned)

		Convey("When reset twice", func() {
			So(s.Reset(), ShouldBeNil)
			once := s.Snapshot()
			So(s.Reset(), ShouldBeNil)

			Convey("Then the result equals a single reset", func() {
				So(s.Snapshot(), ShouldResemble, once)
				So(once.State, ShouldEqual, station.Idle)
				So(once.HasItem, ShouldBeFalse)
				So(once.Progress, ShouldEqual, 0)
			})
		})

		Convey("When the dish is collected", func() {
			_, err := s.Collect()
			Convey("Then it is rejected", func() {
				So(errors.Is(err, station.ErrInvalidState), ShouldBeTrue)
				So(s.State(), ShouldEqual, station.Burned)
			})
		})

		Convey("When a new ingredient is started", func() {
			err := s.Start(patty(0.5), station.Timing{})
			So(errors.Is(err, station.ErrInvalidState), ShouldBeTrue)
		})
	})

	Convey("Given a cooking grill", t, func() {
		s := grill()
		So(s.Start(patty(0.7), station.Timing{}), ShouldBeNil)

		Convey("Then start and reset are rejected without changing state", func() {
			before := s.Snapshot()
			So(errors.Is(s.Start(patty(0.1), station.Timing{}), station.ErrInvalidState), ShouldBeTrue)
			So(errors.Is(s.Reset(), station.ErrInvalidState), ShouldBeTrue)
			So(s.Snapshot(), ShouldResemble, before)
		})
	})

	Convey("Given an idle grill", t, func() {
		s := grill()
		So(errors.Is(s.Attend(), station.ErrInvalidState), ShouldBeTrue)
	})
}

func TestQualityDrift(t *testing.T) {
	Convey("Given a grill cooking a 0.8 patty", t, func() {
		s := grill()
		So(s.Start(patty(0.8), station.Timing{}), ShouldBeNil)

		Convey("When it is attended every tick", func() {
			for range 4 {
				So(s.Attend(), ShouldBeNil)
				s.Tick(time.Second)
			}
			Convey("Then quality trends up", func() {
				So(s.Quality(), ShouldAlmostEqual, 1.0, 1e-9)
			})
		})

		Convey("When it is left alone", func() {
			tickN(s, 9, time.Second)
			Convey("Then quality trends down but never below 0.5", func() {
				So(s.Quality(), ShouldBeLessThan, 0.8)
				So(s.Quality(), ShouldBeGreaterThanOrEqualTo, 0.5)
			})
		})

		Convey("When the finished dish waits unattended", func() {
			s.Tick(10 * time.Second)
			q := s.Quality()
			s.Tick(2 * time.Second)
			Convey("Then it decays", func() {
				So(s.Quality(), ShouldAlmostEqual, q-0.2, 1e-9)
			})
		})

		Convey("When the finished dish is attended while waiting", func() {
			s.Tick(10 * time.Second)
			q := s.Quality()
			So(s.Attend(), ShouldBeNil)
			s.Tick(2 * time.Second)
			Convey("Then quality holds but it still heads towards burning", func() {
				So(s.Quality(), ShouldEqual, q)
				So(s.Progress(), ShouldAlmostEqual, 0.4, 1e-9)
			})
		})
	})

	Convey("Given a chopping board", t, func() {
		b := station.New(recipe.StationSpec{ID: "board-1", Kind: recipe.StationChopping, CookTime: 3 * time.Second})
		So(b.Start(model.InventoryItem{ItemID: "t", Type: "tomato", Quality: 0.6}, station.Timing{}), ShouldBeNil)

		Convey("When nobody chops", func() {
			tickN(b, 10, time.Second)
			Convey("Then no progress is made", func() {
				So(b.State(), ShouldEqual, station.InProgress)
				So(b.Progress(), ShouldEqual, 0)
			})
		})

		Convey("When it is chopped for three seconds", func() {
			for range 3 {
				So(b.Attend(), ShouldBeNil)
				b.Tick(time.Second)
			}
			Convey("Then it completes and never burns", func() {
				So(b.State(), ShouldEqual, station.Completed)
				tickN(b, 60, time.Second)
				So(b.State(), ShouldEqual, station.Completed)
				So(b.Quality(), ShouldEqual, 0.6)
			})
		})
	})
}

func burgerRecipe() *recipe.Recipe {
	return &recipe.Recipe{
		ID: "burger", BasePoints: 40, Difficulty: 2, OptimalQualityThreshold: 0.8,
		Required: []recipe.IngredientRequirement{{Type: "bun", Count: 1}, {Type: "patty", Count: 1, MinQuality: 0.5}},
	}
}

func TestPlating(t *testing.T) {
	Convey("Given a plating station taking 3s and two slots", t, func() {
		s := station.New(recipe.StationSpec{ID: "pass-1", Kind: recipe.StationPlating, Capacity: 2})
		bun := model.InventoryItem{ItemID: "b-1", Type: "bun", Quality: 0.8}

		Convey("When ingredients are added to the tray", func() {
			So(s.AddIngredient(bun), ShouldBeNil)
			So(s.AddIngredient(patty(0.9)), ShouldBeNil)

			Convey("Then the tray is replicated and capped", func() {
				So(s.Snapshot().Tray, ShouldResemble, []model.InventoryItem{bun, patty(0.9)})
				So(errors.Is(s.AddIngredient(bun), station.ErrTrayFull), ShouldBeTrue)
				So(s.State(), ShouldEqual, station.Idle)
			})

			Convey("And the burger is plated for red", func() {
				So(s.StartPlating(burgerRecipe(), "red"), ShouldBeNil)
				So(s.State(), ShouldEqual, station.InProgress)
				So(s.Snapshot().RecipeID, ShouldEqual, "burger")
				So(errors.Is(s.AddIngredient(bun), station.ErrInvalidState), ShouldBeTrue)

				trs := tickN(s, 3, time.Second)

				Convey("Then the dish is scored from the tray and waits without burning", func() {
					So(trs, ShouldHaveLength, 1)
					So(trs[0].To, ShouldEqual, station.Completed)
					So(trs[0].Team, ShouldEqual, "red")
					So(trs[0].RecipeID, ShouldEqual, "burger")
					// 0.8*0.9 scaled by 1-|1-0.8|, plus the presentation bonus
					So(s.Quality(), ShouldAlmostEqual, 0.726, 1e-9)
					So(trs[0].Points, ShouldEqual, 56)
					So(s.Snapshot().Tray, ShouldBeNil)

					tickN(s, 60, time.Second)
					So(s.State(), ShouldEqual, station.Completed)

					dish, err := s.Collect()
					So(err, ShouldBeNil)
					So(dish.Type, ShouldEqual, model.IngredientType("burger"))
					So(dish.Quality, ShouldAlmostEqual, 0.726, 1e-9)
					So(s.State(), ShouldEqual, station.Idle)
					So(s.Snapshot().RecipeID, ShouldBeBlank)
				})
			})
		})

		Convey("When the tray does not satisfy the recipe", func() {
			So(s.AddIngredient(bun), ShouldBeNil)
			So(s.AddIngredient(patty(0.3)), ShouldBeNil)
			err := s.StartPlating(burgerRecipe(), "red")

			Convey("Then plating is refused and a reset empties the tray", func() {
				So(errors.Is(err, station.ErrRecipeMismatch), ShouldBeTrue)
				So(s.State(), ShouldEqual, station.Idle)
				So(s.Reset(), ShouldBeNil)
				So(s.Tray(), ShouldBeEmpty)
				So(s.Reset(), ShouldBeNil)
				So(s.State(), ShouldEqual, station.Idle)
			})
		})

		Convey("When plating starts on an empty tray", func() {
			Convey("Then it is refused", func() {
				So(errors.Is(s.StartPlating(burgerRecipe(), "red"), station.ErrTrayEmpty), ShouldBeTrue)
			})
		})

		Convey("When cooking commands reach it", func() {
			Convey("Then they are refused for the station kind", func() {
				So(errors.Is(s.Start(patty(0.9), station.Timing{}), station.ErrWrongKind), ShouldBeTrue)
				So(errors.Is(s.Attend(), station.ErrWrongKind), ShouldBeTrue)
				So(errors.Is(s.StartMixing(), station.ErrWrongKind), ShouldBeTrue)
				So(errors.Is(grill().AddIngredient(bun), station.ErrWrongKind), ShouldBeTrue)
			})
		})
	})
}

func TestMixing(t *testing.T) {
	Convey("Given a mixing station taking 5s", t, func() {
		s := station.New(recipe.StationSpec{ID: "bowl-1", Kind: recipe.StationMixing})

		Convey("When only one ingredient is on the tray", func() {
			So(s.AddIngredient(model.InventoryItem{ItemID: "t-1", Type: "tomato", Quality: 0.5}), ShouldBeNil)

			Convey("Then mixing is refused", func() {
				So(errors.Is(s.StartMixing(), station.ErrTrayEmpty), ShouldBeTrue)
			})

			Convey("And a second one is added and mixed", func() {
				So(s.AddIngredient(model.InventoryItem{ItemID: "o-1", Type: "onion", Quality: 0.7}), ShouldBeNil)
				So(s.StartMixing(), ShouldBeNil)
				tickN(s, 4, time.Second)
				So(s.State(), ShouldEqual, station.InProgress)
				trs := tickN(s, 1, time.Second)

				Convey("Then one mixed ingredient at the boosted average quality is ready", func() {
					So(trs, ShouldHaveLength, 1)
					So(trs[0].Points, ShouldEqual, 0)
					dish, err := s.Collect()
					So(err, ShouldBeNil)
					So(dish.Type, ShouldEqual, model.Mixed)
					So(dish.Quality, ShouldAlmostEqual, 0.72, 1e-9)
				})
			})
		})
	})
}
