package systems

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r3"
)

// PerlinNoise generates coherent 3D gradient noise in roughly [-1, 1].
type PerlinNoise struct {
	perm [512]int
}

// NewPerlinNoise creates a generator whose permutation table is shuffled by seed.
func NewPerlinNoise(seed int64) *PerlinNoise {
	p := &PerlinNoise{}
	rng := rand.New(rand.NewSource(seed))
	for i, v := range rng.Perm(256) {
		p.perm[i] = v
		p.perm[i+256] = v
	}
	return p
}

// Sample evaluates the noise at a point.
func (p *PerlinNoise) Sample(v r3.Vec) float64 {
	fx, fy, fz := math.Floor(v.X), math.Floor(v.Y), math.Floor(v.Z)
	xi, yi, zi := int(fx)&255, int(fy)&255, int(fz)&255
	x, y, z := v.X-fx, v.Y-fy, v.Z-fz
	u, w, s := smoothstep5(x), smoothstep5(y), smoothstep5(z)

	a := p.perm[xi] + yi
	aa, ab := p.perm[a]+zi, p.perm[a+1]+zi
	b := p.perm[xi+1] + yi
	ba, bb := p.perm[b]+zi, p.perm[b+1]+zi

	near := mix(w,
		mix(u, corner(p.perm[aa], x, y, z), corner(p.perm[ba], x-1, y, z)),
		mix(u, corner(p.perm[ab], x, y-1, z), corner(p.perm[bb], x-1, y-1, z)))
	far := mix(w,
		mix(u, corner(p.perm[aa+1], x, y, z-1), corner(p.perm[ba+1], x-1, y, z-1)),
		mix(u, corner(p.perm[ab+1], x, y-1, z-1), corner(p.perm[bb+1], x-1, y-1, z-1)))
	return mix(s, near, far)
}

func smoothstep5(t float64) float64 {
	return t * t * t * (t*(t*6-15) + 10)
}

func mix(t, a, b float64) float64 {
	return a + t*(b-a)
}

// corner dots the offset with one of the twelve cube-edge gradients.
func corner(hash int, x, y, z float64) float64 {
	h := hash & 15
	u := x
	if h >= 8 {
		u = y
	}
	v := y
	if h >= 4 {
		if h == 12 || h == 14 {
			v = x
		} else {
			v = z
		}
	}
	if h&1 != 0 {
		u = -u
	}
	if h&2 != 0 {
		v = -v
	}
	return u + v
}

// Turbulence is a ForceField that perturbs the fluid with time-varying noise.
// Each axis samples the noise at a decorrelated offset.
type Turbulence struct {
	Noise    *PerlinNoise
	Scale    float64 // world units per noise cell
	Strength float64 // peak acceleration, world units / s^2
	Speed    float64 // noise cells per second along the time axis
}

// NewTurbulence creates a turbulence field.
func NewTurbulence(seed int64, scale, strength, speed float64) *Turbulence {
	return &Turbulence{Noise: NewPerlinNoise(seed), Scale: scale, Strength: strength, Speed: speed}
}

var turbulenceOffsets = [3]r3.Vec{
	{X: 0, Y: 0, Z: 0},
	{X: 31.7, Y: 11.3, Z: 5.9},
	{X: 7.1, Y: 43.9, Z: 23.3},
}

// At implements ForceField.
func (t *Turbulence) At(p r3.Vec, now float64) r3.Vec {
	if t == nil || t.Noise == nil || t.Strength == 0 || t.Scale <= 0 {
		return r3.Vec{}
	}
	q := r3.Scale(1/t.Scale, p)
	q.Z += now * t.Speed
	return r3.Vec{
		X: t.Strength * t.Noise.Sample(r3.Add(q, turbulenceOffsets[0])),
		Y: t.Strength * t.Noise.Sample(r3.Add(q, turbulenceOffsets[1])),
		Z: t.Strength * t.Noise.Sample(r3.Add(q, turbulenceOffsets[2])),
	}
}
