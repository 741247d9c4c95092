package display

import (
	"image"

	"github.com/nfnt/resize"
)

// MaxSubsample bounds the denominator of the scale factor.
const MaxSubsample = 10

// ScaleFactor returns zoom/subsample such that an imgW×imgH frame scaled by
// zoom/subsample fits a winW×winH area. Each axis ratio is approximated by
// the closest fraction with a denominator of at most MaxSubsample and the
// smaller of the two is used.
func ScaleFactor(winW, winH, imgW, imgH int) (zoom, subsample int) {
	if winW <= 0 || winH <= 0 || imgW <= 0 || imgH <= 0 {
		return 1, 1
	}

	xn, xd := limitDenominator(winW, imgW, MaxSubsample)
	yn, yd := limitDenominator(winH, imgH, MaxSubsample)

	zoom, subsample = xn, xd
	if yn*xd < xn*yd {
		zoom, subsample = yn, yd
	}
	if zoom == 0 {
		return 1, MaxSubsample
	}
	return zoom, subsample
}

// Fit scales img by ScaleFactor for a winW×winH area using nearest-neighbour
// sampling. The original image is returned when the factor is 1.
//
// Sizes round up: subsampling by n keeps pixels 0, n, 2n, ... so a partial
// last step still contributes a row or column.
func Fit(img image.Image, winW, winH int) image.Image {
	b := img.Bounds()
	zoom, sub := ScaleFactor(winW, winH, b.Dx(), b.Dy())
	if zoom == sub {
		return img
	}
	w := scaledSize(b.Dx(), zoom, sub)
	h := scaledSize(b.Dy(), zoom, sub)
	return resize.Resize(uint(w), uint(h), img, resize.NearestNeighbor)
}

func scaledSize(dim, zoom, sub int) int {
	return (dim*zoom + sub - 1) / sub
}

// limitDenominator returns the fraction closest to n/d whose denominator is
// at most maxD, using the continued-fraction convergents of n/d. On a tie
// the convergent wins over the semiconvergent.
func limitDenominator(n, d, maxD int) (int, int) {
	g := gcd(n, d)
	n, d = n/g, d/g
	if d <= maxD {
		return n, d
	}

	origN, origD := n, d
	p0, q0, p1, q1 := 0, 1, 1, 0
	for {
		a := n / d
		q2 := q0 + a*q1
		if q2 > maxD {
			break
		}
		p0, q0, p1, q1 = p1, q1, p0+a*p1, q2
		n, d = d, n-a*d
	}

	k := (maxD - q0) / q1
	bn, bd := p0+k*p1, q0+k*q1 // semiconvergent

	// |p1/q1 - x| <= |bn/bd - x| with x = origN/origD, compared exactly.
	e1 := abs(p1*origD-origN*q1) * bd
	e2 := abs(bn*origD-origN*bd) * q1
	if e1 <= e2 {
		return p1, q1
	}
	g = gcd(bn, bd)
	return bn / g, bd / g
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
