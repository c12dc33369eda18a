package ww

import (
	"context"
	"errors"

	"github.com/roessland/wattwich/source"
)

// AuthService handles authentication against the data source
type AuthService struct {
	source DataSource
	logger Logger
}

// NewAuthService creates a new authentication service
func NewAuthService(src DataSource, logger Logger) *AuthService {
	return &AuthService{
		source: src,
		logger: logger,
	}
}

// Authenticate logs in once. On failure it logs whatever the data source
// could tell about the failure; the caller abandons the current batch.
func (a *AuthService) Authenticate(ctx context.Context, cycleID, username, password string) error {
	a.logger.Debug("attempting login", "cycle_id", cycleID, "username", username)

	err := a.source.Login(ctx, username, password)
	if err == nil {
		a.logger.Info("logged in to portal", "cycle_id", cycleID, "username", username)
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	args := []any{"cycle_id", cycleID, "username", username}
	var loginErr *source.LoginError
	if errors.As(err, &loginErr) {
		args = append(args, loginErr.LogAttrs()...)
	} else {
		args = append(args, "error", err)
	}
	a.logger.Error("authentication failed, check credentials", args...)
	return err
}
