package wallet

// State is the view the checkout surface is showing.
type State string

const (
	StateIdentify      State = "identify"
	StateOtpChallenge  State = "otp_challenge"
	StatePasskeyPrompt State = "passkey_prompt"
	StateEnroll        State = "enroll"
	StatePayInstrument State = "pay_instrument"
	StateProcessing    State = "processing"
	StateDone          State = "done"
	StateCancelled     State = "cancelled"
)

// Rendered heights in pixels. The pay view grows with the card list.
const (
	heightIdentify   = 312
	heightOtp        = 356
	heightPrompt     = 248
	heightEnroll     = 388
	heightPayBase    = 268
	heightPerCard    = 72
	heightEmptyList  = 48
	heightProcessing = 220
	heightNotice     = 44
)

// preProcessing reports whether the buyer can still walk away.
func (s State) preProcessing() bool {
	switch s {
	case StateIdentify, StateOtpChallenge, StatePasskeyPrompt, StateEnroll, StatePayInstrument:
		return true
	default:
		return false
	}
}

func viewHeight(s State, cards int, notice bool) int {
	var h int
	switch s {
	case StateIdentify:
		h = heightIdentify
	case StateOtpChallenge:
		h = heightOtp
	case StatePasskeyPrompt:
		h = heightPrompt
	case StateEnroll:
		h = heightEnroll
	case StatePayInstrument:
		h = heightPayBase + heightEmptyList
		if cards > 0 {
			h = heightPayBase + cards*heightPerCard
		}
	default:
		h = heightProcessing
	}
	if notice {
		h += heightNotice
	}
	return h
}
