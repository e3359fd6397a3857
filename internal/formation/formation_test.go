package formation

import (
	"errors"
	"math"
	"testing"

	"github.com/danmuck/flockctl/internal/testutil/testlog"
	"github.com/danmuck/flockctl/internal/vision"
)

const eps = 1e-9

func TestAnglesForFiveAgentRing(t *testing.T) {
	testlog.Start(t)
	p := DefaultParams()
	p.Leader = 2

	if got := FollowerRank(2, p.Leader); got != -1 {
		t.Fatalf("leader rank = %d, want -1", got)
	}
	if got := Angle(FollowerRank(0, p.Leader), 4, p.Exponent); got != 0 {
		t.Fatalf("first follower angle = %v, want 0", got)
	}
	last := FollowerRank(4, p.Leader)
	if last != 3 {
		t.Fatalf("last follower rank = %d, want 3", last)
	}
	if got := Angle(last, 4, p.Exponent); math.Abs(got-2*math.Pi) > eps {
		t.Fatalf("last follower angle = %v, want 2π", got)
	}

	offsets := Offsets(5, p)
	if offsets[2] != (vision.Point3{}) {
		t.Fatalf("leader offset = %+v, want zero", offsets[2])
	}
	if math.Abs(offsets[0].X-100) > eps || math.Abs(offsets[0].Y) > eps {
		t.Fatalf("first follower offset = %+v, want (100, 0)", offsets[0])
	}
	for i, off := range offsets {
		if i == p.Leader {
			continue
		}
		if r := math.Hypot(off.X, off.Y); math.Abs(r-100) > 1e-6 {
			t.Fatalf("offset %d radius = %v, want 100", i, r)
		}
	}
}

func TestEaseMonotonic(t *testing.T) {
	testlog.Start(t)
	for _, a := range []float64{0.5, 1, 2.5, 6} {
		prev := Ease(0, a)
		for i := 1; i <= 100; i++ {
			cur := Ease(float64(i)/100, a)
			if cur < prev {
				t.Fatalf("Ease not monotonic at a=%v t=%v: %v < %v", a, float64(i)/100, cur, prev)
			}
			prev = cur
		}
	}
	if got := Ease(0.5, 2.5); math.Abs(got-0.5) > eps {
		t.Fatalf("Ease(0.5) = %v, want 0.5", got)
	}
	if Ease(-1, 2) != 0 || Ease(2, 2) != 1 {
		t.Fatal("Ease should clamp outside [0, 1]")
	}
}

func TestSmallFleets(t *testing.T) {
	testlog.Start(t)
	if got := Offsets(1, Params{Distance: 50, Exponent: 2}); len(got) != 1 || got[0] != (vision.Point3{}) {
		t.Fatalf("single agent offsets = %+v", got)
	}
	two := Offsets(2, Params{Leader: 1, Distance: 50, Exponent: 2})
	if math.Abs(two[0].X-50) > eps {
		t.Fatalf("lone follower offset = %+v, want (50, 0)", two[0])
	}
}

func TestTargetAndGoArgs(t *testing.T) {
	testlog.Start(t)
	p := Params{Leader: 0, Distance: 100, Exponent: 2.5, Speed: 30}
	leader := vision.Point3{X: 10, Y: 20}
	if got := Target(leader, 0, 3, p); got != leader {
		t.Fatalf("leader target = %+v", got)
	}
	got := Target(leader, 1, 3, p)
	args := GoArgs(got, p.Speed)
	want := []string{"110", "20", "0", "30"}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("GoArgs = %v, want %v", args, want)
		}
	}
}

func TestValidate(t *testing.T) {
	testlog.Start(t)
	ok := DefaultParams()
	if err := ok.Validate(3); err != nil {
		t.Fatalf("Validate default: %v", err)
	}
	cases := []struct {
		name string
		p    Params
		n    int
	}{
		{"empty fleet", ok, 0},
		{"leader out of range", Params{Leader: 3, Distance: 1, Exponent: 1, Speed: 30}, 3},
		{"zero distance", Params{Exponent: 1, Speed: 30}, 3},
		{"bad exponent", Params{Distance: 1, Exponent: math.NaN(), Speed: 30}, 3},
		{"slow", Params{Distance: 1, Exponent: 1, Speed: 5}, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.p.Validate(tc.n); !errors.Is(err, ErrInvalidParams) {
				t.Fatalf("Validate = %v, want ErrInvalidParams", err)
			}
		})
	}
}
