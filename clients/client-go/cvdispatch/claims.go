package cvdispatch

import "fmt"

// Outcome classifies a test claim response. Every claim belongs to exactly
// one of the five classes below; there is no sixth.
type Outcome int

const (
	// OutcomeDispatch means a real test index was dispatched.
	OutcomeDispatch Outcome = iota
	// OutcomeWaiting means no work is ready yet; back off briefly and claim
	// again.
	OutcomeWaiting
	// OutcomeFinished means all tests in the run are exhausted.
	OutcomeFinished
	// OutcomeTerminate means the master requests early shutdown.
	OutcomeTerminate
	// OutcomeProtocolError means the master considers this worker
	// desynchronized. Unknown wire statuses also decode to this class, so
	// a newer master cannot silently steer an older worker.
	OutcomeProtocolError
)

// TestClaim is the decoded, tagged form of a test claim: either a
// dispatched index or one of the control sentinels. Code downstream of the
// transport boundary switches on Outcome and never compares raw status
// strings or reserved integers.
type TestClaim struct {
	outcome Outcome
	index   int
}

// DispatchClaim returns a claim carrying a real test index.
func DispatchClaim(index int) TestClaim {
	return TestClaim{outcome: OutcomeDispatch, index: index}
}

// The sentinel claims.
var (
	Waiting       = TestClaim{outcome: OutcomeWaiting}
	Finished      = TestClaim{outcome: OutcomeFinished}
	Terminate     = TestClaim{outcome: OutcomeTerminate}
	ProtocolError = TestClaim{outcome: OutcomeProtocolError}
)

// Outcome returns which of the five classes this claim belongs to.
func (c TestClaim) Outcome() Outcome {
	return c.outcome
}

// Index returns the dispatched test index. Only meaningful when Outcome is
// OutcomeDispatch.
func (c TestClaim) Index() int {
	return c.index
}

func (c TestClaim) String() string {
	switch c.outcome {
	case OutcomeDispatch:
		return fmt.Sprintf("dispatch(%v)", c.index)
	case OutcomeWaiting:
		return StatusWaitingForClients
	case OutcomeFinished:
		return StatusFinishedAllTests
	case OutcomeTerminate:
		return StatusShouldTerminate
	default:
		return StatusProtocolError
	}
}

// Claim decodes the raw wire response into its tagged form. This is the
// single place where wire statuses are interpreted; statuses this client
// does not recognize decode to the protocol-error class rather than being
// ignored.
func (r *TestClaimResponse) Claim() TestClaim {
	switch r.Status {
	case StatusDispatch:
		return DispatchClaim(r.TestIndex)
	case StatusWaitingForClients:
		return Waiting
	case StatusFinishedAllTests:
		return Finished
	case StatusShouldTerminate:
		return Terminate
	default:
		return ProtocolError
	}
}
