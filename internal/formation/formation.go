// Package formation places followers on a ring around a leader. Followers
// are spread by an easing curve so spacing bunches toward the ends of the
// ring instead of being uniform.
package formation

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/danmuck/flockctl/internal/vision"
)

const (
	DefaultDistance = 100
	DefaultExponent = 2.5
	DefaultSpeed    = 30
	minSpeed        = 10
	maxSpeed        = 100
)

var ErrInvalidParams = errors.New("formation: invalid params")

// Params describes one formation request. Leader is a compact fleet index.
type Params struct {
	Leader   int
	Distance int
	Exponent float64
	Speed    int
}

func DefaultParams() Params {
	return Params{
		Distance: DefaultDistance,
		Exponent: DefaultExponent,
		Speed:    DefaultSpeed,
	}
}

// Validate checks p against a fleet of size n.
func (p Params) Validate(n int) error {
	switch {
	case n <= 0:
		return fmt.Errorf("%w: empty fleet", ErrInvalidParams)
	case p.Leader < 0 || p.Leader >= n:
		return fmt.Errorf("%w: leader %d outside fleet of %d", ErrInvalidParams, p.Leader, n)
	case p.Distance <= 0:
		return fmt.Errorf("%w: distance must be positive", ErrInvalidParams)
	case p.Exponent <= 0 || math.IsNaN(p.Exponent) || math.IsInf(p.Exponent, 0):
		return fmt.Errorf("%w: exponent must be positive", ErrInvalidParams)
	case p.Speed < minSpeed || p.Speed > maxSpeed:
		return fmt.Errorf("%w: speed %d outside [%d, %d]", ErrInvalidParams, p.Speed, minSpeed, maxSpeed)
	}
	return nil
}

// Ease is t^a / (t^a + (1-t)^a) with t clamped to [0, 1].
func Ease(t, a float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	ta := math.Pow(t, a)
	return ta / (ta + math.Pow(1-t, a))
}

// FollowerRank maps a fleet index to its position among followers, or -1
// for the leader.
func FollowerRank(index, leader int) int {
	switch {
	case index == leader:
		return -1
	case index > leader:
		return index - 1
	default:
		return index
	}
}

// Angle returns the ring angle in radians for follower rank among
// followers. The first rank sits at 0 and the last at 2π.
func Angle(rank, followers int, a float64) float64 {
	if followers <= 1 || rank <= 0 {
		return 0
	}
	t := float64(rank) / float64(followers-1)
	return Ease(t, a) * 2 * math.Pi
}

// Offset is the displacement from the leader for the given ring angle.
func Offset(distance int, angle float64) vision.Point3 {
	d := float64(distance)
	return vision.Point3{X: d * math.Cos(angle), Y: d * math.Sin(angle)}
}

// Offsets computes per-index offsets for a fleet of n. The leader's entry is
// the zero point.
func Offsets(n int, p Params) []vision.Point3 {
	out := make([]vision.Point3, n)
	followers := n - 1
	for i := range out {
		rank := FollowerRank(i, p.Leader)
		if rank < 0 {
			continue
		}
		out[i] = Offset(p.Distance, Angle(rank, followers, p.Exponent))
	}
	return out
}

// Target is the absolute setpoint for follower index given the leader's
// estimated position.
func Target(leaderPos vision.Point3, index, n int, p Params) vision.Point3 {
	rank := FollowerRank(index, p.Leader)
	if rank < 0 {
		return leaderPos
	}
	return leaderPos.Add(Offset(p.Distance, Angle(rank, n-1, p.Exponent)))
}

// GoArgs renders a target as the arguments of the go capability.
func GoArgs(target vision.Point3, speed int) []string {
	return []string{
		strconv.Itoa(int(math.Round(target.X))),
		strconv.Itoa(int(math.Round(target.Y))),
		strconv.Itoa(int(math.Round(target.Z))),
		strconv.Itoa(speed),
	}
}
