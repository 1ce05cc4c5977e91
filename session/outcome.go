package session

// Outcome is the settled result of a refresh, delivered to every waiter.
// It is either Retry or Fail.
type Outcome interface {
	outcome()
}

// Retry carries the new access token; the waiter should replay with it.
type Retry struct {
	Token string
}

// Fail carries the reason the refresh did not produce a token.
type Fail struct {
	Err error
}

func (Retry) outcome() {}
func (Fail) outcome()  {}

// pendingRequest is a request parked until the in-flight refresh settles.
// result is buffered so delivery never blocks, even after the waiter left.
type pendingRequest struct {
	result chan Outcome
}

func newPendingRequest() *pendingRequest {
	return &pendingRequest{result: make(chan Outcome, 1)}
}

func (p *pendingRequest) deliver(o Outcome) {
	p.result <- o
}
