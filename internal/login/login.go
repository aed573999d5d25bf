// Package login is a thin wrapper around the Registry Client's login
// check, implementing the REGISTRY_USER/REGISTRY_TOKEN bypass rule.
// Credential storage and the interactive prompt flow are external
// collaborators; this package only decides whether a push may proceed
// anonymously, with existing credentials, or must fail.
package login

import (
	"context"

	"github.com/golemfactory/gvmkit-push/internal/config"
	"github.com/golemfactory/gvmkit-push/internal/pusherr"
	"github.com/golemfactory/gvmkit-push/internal/registry"
)

// Check verifies cfg's credentials against the registry when both
// REGISTRY_USER and REGISTRY_TOKEN are present and NoLogin is not set.
// It returns nil when no credentials were supplied or NoLogin is set
// (anonymous pull/push-without-repo is legal) or when the supplied
// credentials check out, and a pusherr.AuthError when they do not.
func Check(ctx context.Context, client *registry.Client, cfg config.Config) error {
	if cfg.Registry.NoLogin || !cfg.HasLoginBypass() {
		return nil
	}
	return client.CheckLogin(ctx, cfg.Registry.User, cfg.Registry.Token)
}

// RequireForRepository enforces the rule that anonymous push is
// disallowed when targeting a named repository: --push-to requires
// credentials, while plain --push does not.
func RequireForRepository(cfg config.Config, repository string) error {
	if repository == "" {
		return nil
	}
	if cfg.Registry.NoLogin {
		return pusherr.NewConfigError("--nologin cannot be combined with pushing to a named repository")
	}
	if !cfg.HasLoginBypass() {
		return pusherr.NewConfigError("pushing to a named repository requires REGISTRY_USER and REGISTRY_TOKEN")
	}
	return nil
}
