// Package vision estimates an agent's planar position from one camera frame
// by matching binary feature descriptors against reference landmark sets.
package vision

import (
	"encoding/binary"
	"image"
	"image/color"
	"math/bits"
)

// DescriptorSize is the byte length of one 256-bit binary descriptor.
const DescriptorSize = 32

// Descriptor is a 256-bit binary feature signature.
type Descriptor [DescriptorSize]byte

// Keypoint is a detected feature location in image coordinates.
type Keypoint struct {
	X, Y     float64
	Angle    float64
	Response float64
}

// Point3 is an estimated position. Z stays zero: there is no depth estimate.
type Point3 struct {
	X, Y, Z float64
}

// Add returns the component-wise sum.
func (p Point3) Add(o Point3) Point3 {
	return Point3{X: p.X + o.X, Y: p.Y + o.Y, Z: p.Z + o.Z}
}

// Hamming returns the number of differing bits.
func Hamming(a, b Descriptor) int {
	d := 0
	for i := 0; i < DescriptorSize; i += 8 {
		x := binary.LittleEndian.Uint64(a[i:i+8]) ^ binary.LittleEndian.Uint64(b[i:i+8])
		d += bits.OnesCount64(x)
	}
	return d
}

// Gray converts any image to 8-bit grayscale, reusing *image.Gray inputs.
func Gray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return out
}
