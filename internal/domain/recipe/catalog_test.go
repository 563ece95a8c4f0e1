package recipe_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/okian/reciperage/internal/domain/model"
	"github.com/okian/reciperage/internal/domain/recipe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDefaultCatalog(t *testing.T) {
	Convey("Given the built-in catalog", t, func() {
		c := recipe.Default()

		Convey("Then its levels resolve", func() {
			So(c.LevelIDs(), ShouldResemble, []string{"diner", "food-truck"})
			diner, err := c.Level("diner")
			So(err, ShouldBeNil)
			So(diner.MaxSimultaneousOrders, ShouldEqual, 3)
			So(diner.Duration, ShouldEqual, 180*time.Second)
			So(diner.HasTeam("red"), ShouldBeTrue)
			So(diner.HasTeam("green"), ShouldBeFalse)
			So(c.Pool(diner), ShouldHaveLength, 4)
		})

		Convey("Then recipe defaults are applied", func() {
			burger, err := c.Recipe("burger")
			So(err, ShouldBeNil)
			So(burger.Reward, ShouldEqual, burger.BasePoints)
			So(burger.TimeLimit, ShouldEqual, recipe.DefaultOrderTimeLimit)
			So(burger.OptimalQualityThreshold, ShouldEqual, recipe.DefaultQualityThreshold)
			So(burger.Requires("patty"), ShouldBeTrue)
			So(burger.Requires("cheese"), ShouldBeFalse)

			soup, _ := c.Recipe("tomato-soup")
			So(soup.Reward, ShouldEqual, 70)
			So(soup.RequiredTypes(), ShouldResemble, []model.IngredientType{"tomato", "tomato", "tomato", "onion"})
		})

		Convey("Then station timings fall back to defaults", func() {
			diner, _ := c.Level("diner")
			So(diner.Stations[0].CookTime, ShouldEqual, recipe.DefaultCookTime)
			So(diner.Stations[0].BurnTime, ShouldEqual, recipe.DefaultBurnTime)
			So(diner.Stations[2].CookTime, ShouldEqual, 12*time.Second)
			So(diner.Stations[3].Kind, ShouldEqual, recipe.StationChopping)
			So(diner.Stations[5].CookTime, ShouldEqual, recipe.DefaultMixTime)
			So(diner.Stations[5].Capacity, ShouldEqual, recipe.DefaultMixCapacity)
			So(diner.Stations[6].Kind, ShouldEqual, recipe.StationPlating)
			So(diner.Stations[6].CookTime, ShouldEqual, recipe.DefaultPlateTime)
			So(diner.Stations[6].Capacity, ShouldEqual, recipe.DefaultPlateCapacity)
			So(diner.Stations[0].Capacity, ShouldEqual, 0)
		})

		Convey("Then unknown ids are reported", func() {
			_, err := c.Recipe("pizza")
			So(errors.Is(err, recipe.ErrUnknownRecipe), ShouldBeTrue)
			_, err = c.Level("moon-base")
			So(errors.Is(err, recipe.ErrUnknownLevel), ShouldBeTrue)
		})
	})
}

func TestParseCatalog(t *testing.T) {
	Convey("Given catalog documents", t, func() {
		valid := `
recipes:
  - id: toast
    base_points: 5
    required:
      - { type: bread, count: 1 }
levels:
  - id: tiny
    duration: 30s
    min_order_delay: 1s
    max_order_delay: 2s
    recipes: [toast]
    stations:
      - { id: toaster }
`
		Convey("When a valid file is loaded from disk", func() {
			path := filepath.Join(t.TempDir(), "catalog.yaml")
			So(os.WriteFile(path, []byte(valid), 0o600), ShouldBeNil)
			c, err := recipe.LoadFile(path)

			Convey("Then recipes and levels are usable", func() {
				So(err, ShouldBeNil)
				l, err := c.Level("tiny")
				So(err, ShouldBeNil)
				So(l.Teams, ShouldResemble, []string{"red", "blue"})
				So(l.Stations[0].Kind, ShouldEqual, recipe.StationCooking)
				r, _ := c.Recipe("toast")
				So(r.BaseCookTime, ShouldEqual, recipe.DefaultCookTime)
				So(r.Reward, ShouldEqual, 5)
			})
		})

		invalid := map[string]string{
			"unknown field":    "recipes:\n  - id: a\n    colour: red\n",
			"dangling recipe":  strings.Replace(valid, "recipes: [toast]", "recipes: [cake]", 1),
			"inverted delays":  strings.Replace(valid, "min_order_delay: 1s", "min_order_delay: 5s", 1),
			"empty pool":       strings.Replace(valid, "recipes: [toast]", "recipes: []", 1),
			"duplicate recipe": strings.Replace(valid, "levels:", "  - id: toast\n    required:\n      - { type: bread, count: 1 }\nlevels:", 1),
			"bad station kind": strings.Replace(valid, "{ id: toaster }", "{ id: toaster, kind: baking }", 1),
			"empty recipe":     "recipes:\n  - id: air\n",
		}
		for name, doc := range invalid {
			Convey("When parsing a catalog with "+name, func() {
				_, err := recipe.Parse(strings.NewReader(doc))
				Convey("Then it is rejected", func() {
					So(errors.Is(err, recipe.ErrInvalidCatalog), ShouldBeTrue)
				})
			})
		}

		Convey("When the file does not exist", func() {
			_, err := recipe.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
			So(err, ShouldNotBeNil)
		})
	})
}
