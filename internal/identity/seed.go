package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// DemoEmail is the pre-seeded account used by the storefront demo.
const DemoEmail = "demo@example.com"

// SeedDemo creates the demo account with three fixed cards unless it exists.
func SeedDemo(ctx context.Context, repo Repository) (User, error) {
	if user, err := repo.FindUserByEmail(ctx, DemoEmail); err == nil {
		return user, nil
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	card := func(brand, last4, expiry string) Instrument {
		tpl := templateFor(brand)
		return Instrument{
			ID:        "card_" + uuid.NewString(),
			Brand:     tpl.brand,
			Last4:     last4,
			Expiry:    expiry,
			ColorFrom: tpl.colorFrom,
			ColorTo:   tpl.colorTo,
		}
	}

	user := User{
		ID:          uuid.NewString(),
		Email:       DemoEmail,
		DisplayName: "Alex Johnson",
		Instruments: []Instrument{
			card("Visa", "4242", "09/28"),
			card("Mastercard", "8888", "03/27"),
			card("Amex", "1234", "12/29"),
		},
		CreatedAt: time.Now().UTC(),
	}

	if err := repo.CreateUser(ctx, user); err != nil && !errors.Is(err, ErrExists) {
		return User{}, err
	}
	return repo.FindUserByEmail(ctx, DemoEmail)
}
