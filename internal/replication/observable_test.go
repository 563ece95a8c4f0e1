package replication

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestVar(t *testing.T) {
	Convey("Given an observable score", t, func() {
		v := NewVar(10)
		var seen [][2]int
		v.OnChange(func(old, n int) { seen = append(seen, [2]int{old, n}) })

		Convey("When it is set to the same value", func() {
			changed := v.Set(10)
			Convey("Then nobody is notified", func() {
				So(changed, ShouldBeFalse)
				So(seen, ShouldBeEmpty)
			})
		})

		Convey("When it is set to new values", func() {
			So(v.Set(20), ShouldBeTrue)
			So(v.Set(35), ShouldBeTrue)
			Convey("Then observers see each old and new value", func() {
				So(seen, ShouldResemble, [][2]int{{10, 20}, {20, 35}})
				So(v.Get(), ShouldEqual, 35)
			})
		})
	})

	Convey("Given a Var with custom equality", t, func() {
		v := NewVarFunc([]string{"a"}, func(a, b []string) bool { return len(a) == len(b) })
		calls := 0
		v.OnChange(func(_, _ []string) { calls++ })

		So(v.Set([]string{"b"}), ShouldBeFalse)
		So(v.Set([]string{"a", "b"}), ShouldBeTrue)
		So(calls, ShouldEqual, 1)
	})
}
