package pug

import (
	"math/rand/v2"
	"sort"

	"tf2pug/internal/rating"
)

const medicThreshold = 4

// Assignment is the output of Balance. Players holds each team's non-medic
// players.
type Assignment struct {
	Medics  map[Team]PlayerID
	Players map[Team][]PlayerID
}

// Balance splits the roster into red and blue. order is the roster in join
// order; it fixes the tie order of the rating sort so the split is
// reproducible apart from the random medic pick.
func Balance(order []PlayerID, stats map[PlayerID]PlayerStats) Assignment {
	medics := pickMedics(order, stats)
	rand.Shuffle(len(medics), func(i, j int) { medics[i], medics[j] = medics[j], medics[i] })

	blueMedic := medics[len(medics)-1]
	redMedic := medics[len(medics)-2]

	rest := make([]PlayerID, 0, len(order))
	for _, id := range order {
		if id != blueMedic && id != redMedic {
			rest = append(rest, id)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool {
		return stats[rest[i]].Rating > stats[rest[j]].Rating
	})

	red, blue := split(rest, stats)

	return Assignment{
		Medics:  map[Team]PlayerID{TeamRed: redMedic, TeamBlue: blueMedic},
		Players: map[Team][]PlayerID{TeamRed: red, TeamBlue: blue},
	}
}

// pickMedics lowers the threshold until at least two players have gone more
// than threshold games without playing medic. Candidates accumulate across
// rounds.
func pickMedics(order []PlayerID, stats map[PlayerID]PlayerStats) []PlayerID {
	var candidates []PlayerID
	seen := make(map[PlayerID]bool, len(order))

	for threshold := medicThreshold; len(candidates) < 2 && threshold >= -1; threshold-- {
		for _, id := range order {
			if !seen[id] && stats[id].GamesSinceMedic > threshold {
				seen[id] = true
				candidates = append(candidates, id)
			}
		}
	}
	return candidates
}

// split deals the rating-sorted players alternately to red and blue, then
// makes one pass swapping pairs that narrow the rating gap. j is never reset:
// after a swap the next red player resumes the scan where it stopped.
func split(sorted []PlayerID, stats map[PlayerID]PlayerStats) ([]PlayerID, []PlayerID) {
	var red, blue []PlayerID
	var redScore, blueScore rating.Rating

	for n, id := range sorted {
		if n%2 == 0 {
			red = append(red, id)
			redScore += stats[id].Rating
		} else {
			blue = append(blue, id)
			blueScore += stats[id].Rating
		}
	}

	diff := (redScore - blueScore).Abs()
	j := 0
	for i := 0; i < len(red); i++ {
		for j < len(blue) {
			r, b := stats[red[i]].Rating, stats[blue[j]].Rating
			newRed := redScore - r + b
			newBlue := blueScore + r - b

			if newDiff := (newRed - newBlue).Abs(); newDiff < diff {
				red[i], blue[j] = blue[j], red[i]
				redScore, blueScore, diff = newRed, newBlue, newDiff
				break
			}
			j++
		}
	}

	return red, blue
}
