package rating

// Calculate runs the duels method over teams. ranks[i] is the finishing
// position of teams[i]: 0 is the winner, higher is worse and equal ranks are a
// draw. Every player duels every player of every other team and moves by the
// mean of those duel deltas. The result mirrors the shape of teams.
func Calculate(teams [][]Rating, ranks []int) [][]Rating {
	out := make([][]Rating, len(teams))

	for i, team := range teams {
		out[i] = make([]Rating, len(team))

		for n, p := range team {
			var sum float64
			var duels int

			for j, opponents := range teams {
				if j == i {
					continue
				}
				actual := score(ranks[i], ranks[j])

				for _, e := range opponents {
					sum += kFor(actual, p, e) * (actual - Expected(p, e))
					duels++
				}
			}

			if duels == 0 {
				out[i][n] = p
				continue
			}
			out[i][n] = (p + Rating(sum/float64(duels))).Round(3)
		}
	}

	return out
}

func score(own, other int) float64 {
	switch {
	case own < other:
		return Win
	case own > other:
		return Loss
	default:
		return Draw
	}
}

// The winner's K is used for a decisive duel. A draw uses the lower rated
// player's K.
func kFor(actual float64, p, e Rating) float64 {
	switch {
	case actual == Win:
		return KFactor(p)
	case actual == Loss:
		return KFactor(e)
	case p > e:
		return KFactor(e)
	default:
		return KFactor(p)
	}
}
