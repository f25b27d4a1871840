package transcript

import "errors"

var (
	// ErrBusy is returned when a send is attempted while an exchange or history load is in flight.
	ErrBusy = errors.New("transcript busy: an exchange is already in flight")
	// ErrEmptyAnswer marks a provider response with no usable content.
	ErrEmptyAnswer = errors.New("answer provider returned an empty answer")

	errNoAnswerProvider = errors.New("no answer provider configured")
)

// ApologyText replaces the agent reply when an exchange fails.
const ApologyText = "Sorry, I encountered an error. Please try again."
