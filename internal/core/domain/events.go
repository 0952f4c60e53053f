package domain

type SwapEvent interface {
	isEvent()
}

func (e SwapStarted) isEvent()           {}
func (e CancellationRequested) isEvent() {}
func (e LegALocked) isEvent()            {}
func (e CounterLegAttached) isEvent()    {}
func (e LegBLocked) isEvent()            {}
func (e SecretRevealed) isEvent()        {}
func (e CounterLegClaimed) isEvent()     {}
func (e SwapSettled) isEvent()           {}
func (e RefundStarted) isEvent()         {}
func (e LegRefunded) isEvent()           {}
func (e SwapRefunded) isEvent()          {}
func (e SwapFailed) isEvent()            {}
func (e SwapPartiallyFailed) isEvent()   {}

type SwapStarted struct {
	Id        string
	Hash      string
	LegA      EscrowRecord
	Timestamp int64
}

type CancellationRequested struct {
	Id        string
	Timestamp int64
}

// LegALocked records that the first escrow was observed ACTIVE on-ledger,
// carrying the expiry the ledger itself reports for it.
type LegALocked struct {
	Id        string
	Timelock  int64
	Timestamp int64
}

type CounterLegAttached struct {
	Id        string
	LegB      EscrowRecord
	Timestamp int64
}

type LegBLocked struct {
	Id        string
	Timelock  int64
	Timestamp int64
}

// SecretRevealed records the first successful claim of either leg. From this
// point on the pre-image is public on the revealing ledger.
type SecretRevealed struct {
	Id        string
	LedgerId  string
	Secret    []byte
	Timestamp int64
}

type CounterLegClaimed struct {
	Id        string
	LedgerId  string
	Timestamp int64
}

type SwapSettled struct {
	Id        string
	Timestamp int64
}

type RefundStarted struct {
	Id        string
	LedgerId  string
	Reason    string
	Timestamp int64
}

type LegRefunded struct {
	Id        string
	LedgerId  string
	Timestamp int64
}

type SwapRefunded struct {
	Id        string
	Timestamp int64
}

type SwapFailed struct {
	Id        string
	Reason    string
	Timestamp int64
}

type SwapPartiallyFailed struct {
	Id        string
	Reason    string
	Timestamp int64
}
