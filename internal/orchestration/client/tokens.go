package client

// TokenTally tracks how many tokens an invocation has consumed. Agents that
// report usage are trusted; for those that don't, usage is estimated at
// roughly four characters per token from the text flowing through the stream.
type TokenTally struct {
	reported  int
	estimated int
}

const charsPerToken = 4

// Observe updates the tally from one event and returns the current total.
func (t *TokenTally) Observe(e OutputEvent) int {
	if e.Usage != nil {
		if total := e.Usage.Total(); total > t.reported {
			t.reported = total
		}
	}

	chars := 0
	if e.Message != nil {
		for _, b := range e.Message.Content {
			chars += len(b.Text) + len(b.Input)
		}
	}
	if e.Tool != nil {
		chars += len(e.Tool.Output)
		if e.Message == nil {
			chars += len(e.Tool.Input)
		}
	}
	t.estimated += (chars + charsPerToken - 1) / charsPerToken

	return t.Total()
}

// Total returns reported usage when any was seen, otherwise the estimate.
func (t *TokenTally) Total() int {
	if t.reported > 0 {
		return t.reported
	}
	return t.estimated
}

// Reported reports whether the agent has supplied real usage figures.
func (t *TokenTally) Reported() bool {
	return t.reported > 0
}
