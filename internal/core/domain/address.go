package domain

// AddressContext is the usage a subaddress is currently bound to.
type AddressContext int

const (
	ContextAvailable AddressContext = iota
	ContextOfferFunding
	ContextTradeReserved
	ContextMultisig
	ContextTradePayout
	ContextArbitrator
)

var addressContextNames = map[AddressContext]string{
	ContextAvailable:     "AVAILABLE",
	ContextOfferFunding:  "OFFER_FUNDING",
	ContextTradeReserved: "TRADE_RESERVED",
	ContextMultisig:      "MULTISIG",
	ContextTradePayout:   "TRADE_PAYOUT",
	ContextArbitrator:    "ARBITRATOR",
}

func (c AddressContext) String() string {
	if name, ok := addressContextNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// AddressEntry binds one wallet subaddress to its current usage context and,
// when reserved, to the offer or trade that holds it.
type AddressEntry struct {
	SubaddressIndex uint32
	Address         string
	Context         AddressContext
	OfferId         string
}

// IsAvailable reports whether the entry can be recycled for a new usage.
func (e *AddressEntry) IsAvailable() bool {
	return e.Context == ContextAvailable
}

// SwapTo rebinds the entry to a new context and offer id without changing
// the underlying subaddress index.
func (e *AddressEntry) SwapTo(context AddressContext, offerId string) {
	e.Context = context
	e.OfferId = offerId
}

// SwapToAvailable resets the entry so the subaddress can be reused.
func (e *AddressEntry) SwapToAvailable() {
	e.Context = ContextAvailable
	e.OfferId = ""
}
