package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/avaliahq/tenancy/internal/auth"
)

type TokenCmd struct {
	Subject    string        `help:"Subject identifier" required:""`
	Email      string        `help:"Email claim" default:""`
	TTL        time.Duration `help:"Token lifetime" default:"1h"`
	SigningKey string        `help:"JWT signing key" required:"" env:"TENANCY_JWT_SECRET"`
}

func (t *TokenCmd) Run(ctx context.Context) error {
	token, err := auth.Sign(t.SigningKey, t.Subject, t.Email, t.TTL)
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}
