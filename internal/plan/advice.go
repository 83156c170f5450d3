package plan

// sizeLadder holds the batch sizes the advisor will suggest from.
var sizeLadder = []int{5, 10, 15, 20, 25, 30, 50, 100}

// Advice flags a multi-day plan whose item count strays materially from
// the ideal size*days. Advisory only; plans are never rejected for this.
type Advice struct {
	Warn          bool
	Ideal         int
	Missing       int // items short of ideal (when under)
	Extra         int // items beyond ideal (when over)
	SuggestedSize int // alternate batch size that fits better, 0 if none
}

// SizeAdvice compares n items against the ideal count for size*days.
// Deviation within one batch-per-day of slack is considered fine.
func SizeAdvice(n, size, days int) Advice {
	if size < 1 || days < 1 {
		return Advice{}
	}
	ideal := size * days
	a := Advice{Ideal: ideal}
	diff := n - ideal
	if diff < 0 {
		diff = -diff
	}
	if diff <= days {
		return a
	}
	a.Warn = true
	if n < ideal {
		a.Missing = ideal - n
		return a
	}
	a.Extra = n - ideal
	for _, s := range sizeLadder {
		d := n - s*days
		if d < 0 {
			d = -d
		}
		if d <= days {
			a.SuggestedSize = s
			break
		}
	}
	return a
}
