package rating

import "math"

// Rating is a player's skill rating. It is a plain numeric type so ratings can
// be added, subtracted and compared directly.
type Rating float64

const Default Rating = 1500

const (
	Win  = 1.0
	Loss = 0.0
	Draw = 0.5
)

var kTable = map[int]float64{
	14: 32,
	15: 24,
	16: 16,
	17: 10,
	18: 8,
	19: 7,
	20: 6,
}

// KFactor returns the K-factor for the rating bracket floor(r/100), clamped
// to [14, 20]. Higher ratings move slower.
func KFactor(r Rating) float64 {
	bracket := int(math.Floor(float64(r) / 100))
	if bracket < 14 {
		bracket = 14
	}
	if bracket > 20 {
		bracket = 20
	}
	return kTable[bracket]
}

// Expected is the classic Elo expected score of p against e.
func Expected(p, e Rating) float64 {
	return 1 / (1 + math.Pow(10, float64(e-p)/400))
}

// Abs returns |r|.
func (r Rating) Abs() Rating {
	return Rating(math.Abs(float64(r)))
}

// Round rounds r to the given number of decimal places.
func (r Rating) Round(places int) Rating {
	pow := math.Pow(10, float64(places))
	return Rating(math.Round(float64(r)*pow) / pow)
}

func (r Rating) Float64() float64 {
	return float64(r)
}
