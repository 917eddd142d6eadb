package identity

import (
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
)

// DefaultInstrumentCount is how many cards a new account receives.
const DefaultInstrumentCount = 2

type cardTemplate struct {
	brand     string
	colorFrom string
	colorTo   string
}

var cardTemplates = []cardTemplate{
	{brand: "Visa", colorFrom: "#1a1f71", colorTo: "#2557d6"},
	{brand: "Mastercard", colorFrom: "#eb001b", colorTo: "#f79e1b"},
	{brand: "Amex", colorFrom: "#006fcf", colorTo: "#00aeef"},
}

// GenerateInstruments builds up to count cards from distinct brand templates
// with random last four digits and an expiry between 2027 and 2030.
func GenerateInstruments(count int) []Instrument {
	order := rand.Perm(len(cardTemplates))
	if count > len(order) {
		count = len(order)
	}

	out := make([]Instrument, 0, count)
	for _, idx := range order[:count] {
		tpl := cardTemplates[idx]
		out = append(out, Instrument{
			ID:        "card_" + uuid.NewString(),
			Brand:     tpl.brand,
			Last4:     fmt.Sprintf("%04d", 1000+rand.IntN(9000)),
			Expiry:    fmt.Sprintf("%02d/%d", 1+rand.IntN(12), 27+rand.IntN(4)),
			ColorFrom: tpl.colorFrom,
			ColorTo:   tpl.colorTo,
		})
	}
	return out
}

func templateFor(brand string) cardTemplate {
	for _, tpl := range cardTemplates {
		if tpl.brand == brand {
			return tpl
		}
	}
	return cardTemplates[0]
}
