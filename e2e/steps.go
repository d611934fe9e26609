package e2e

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"clubadmin/internal/admin/identity"
	"clubadmin/internal/admin/models"
	"clubadmin/internal/resilient"
)

// RegisterSteps registers all step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Setup steps
	ctx.Step(`^the admin allow-list is "([^"]*)"$`, tc.adminAllowListIs)
	ctx.Step(`^the identity provider confirms "([^"]*)"$`, tc.identityProviderConfirms)
	ctx.Step(`^the sign-in form allows (\d+) attempts per code$`, tc.signInFormAllows)
	ctx.Step(`^the admin service is running$`, tc.adminServiceIsRunning)
	ctx.Step(`^the remote store is unavailable$`, tc.remoteStoreIsUnavailable)

	// Request steps
	ctx.Step(`^I sign in with the identity provider$`, tc.signInWithProvider)
	ctx.Step(`^I verify the emailed code$`, tc.verifyEmailedCode)
	ctx.Step(`^I verify the code "([^"]*)"$`, tc.verifyCode)
	ctx.Step(`^I GET "([^"]*)"$`, tc.get)

	// Assertion steps
	ctx.Step(`^the response status should be (\d+)$`, tc.responseStatusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, tc.responseFieldShouldEqual)
	ctx.Step(`^the state should be "([^"]*)"$`, tc.stateShouldBe)
	ctx.Step(`^a sign-in code should have been emailed to "([^"]*)"$`, tc.codeEmailedTo)
	ctx.Step(`^no sign-in code should have been emailed$`, tc.noCodeEmailed)
	ctx.Step(`^the identity provider should have been signed out$`, tc.providerSignedOut)
	ctx.Step(`^the session should expire in about (\d+) minutes$`, tc.sessionExpiresIn)
	ctx.Step(`^the sign-in code should be held only in the local fallback$`, tc.codeOnlyInFallback)
}

func (tc *TestContext) adminAllowListIs(_ context.Context, list string) error {
	tc.AllowList = strings.Split(list, ",")
	return nil
}

func (tc *TestContext) identityProviderConfirms(_ context.Context, address string) error {
	tc.Identity = models.AdminIdentity{
		UID:         "uid-" + strings.ReplaceAll(address, "@", "-"),
		Email:       address,
		DisplayName: strings.Split(address, "@")[0],
	}
	return nil
}

func (tc *TestContext) signInFormAllows(_ context.Context, attempts int) error {
	tc.MaxUIAttempts = attempts
	return nil
}

func (tc *TestContext) adminServiceIsRunning(context.Context) error {
	return tc.Start()
}

func (tc *TestContext) remoteStoreIsUnavailable(context.Context) error {
	tc.health.MarkUnavailable()
	return nil
}

func (tc *TestContext) signInWithProvider(context.Context) error {
	return tc.POST("/admin/auth/signin", map[string]any{"code": identity.StaticCode})
}

func (tc *TestContext) verifyEmailedCode(ctx context.Context) error {
	code, err := tc.outbox.lastCode()
	if err != nil {
		return err
	}
	return tc.verifyCode(ctx, code)
}

func (tc *TestContext) verifyCode(_ context.Context, code string) error {
	return tc.POST("/admin/auth/verify", map[string]any{"token": code})
}

func (tc *TestContext) get(_ context.Context, path string) error {
	return tc.GET(path)
}

func (tc *TestContext) responseStatusShouldBe(_ context.Context, expectedStatus int) error {
	if tc.LastResponse == nil {
		return fmt.Errorf("no request was made")
	}
	if tc.LastResponse.StatusCode != expectedStatus {
		return fmt.Errorf("expected status %d but got %d", expectedStatus, tc.LastResponse.StatusCode)
	}
	return nil
}

func (tc *TestContext) responseFieldShouldEqual(_ context.Context, field, expectedValue string) error {
	actualValue, err := tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if fmt.Sprint(actualValue) != expectedValue {
		return fmt.Errorf("field %s: expected %s but got %v", field, expectedValue, actualValue)
	}
	return nil
}

func (tc *TestContext) stateShouldBe(ctx context.Context, state string) error {
	return tc.responseFieldShouldEqual(ctx, "state", state)
}

func (tc *TestContext) codeEmailedTo(_ context.Context, address string) error {
	msgs := tc.outbox.messages()
	if len(msgs) == 0 {
		return fmt.Errorf("no email was sent")
	}
	if last := msgs[len(msgs)-1]; last.To != address {
		return fmt.Errorf("expected an email to %s but the last went to %s", address, last.To)
	}
	_, err := tc.outbox.lastCode()
	return err
}

func (tc *TestContext) noCodeEmailed(context.Context) error {
	if n := len(tc.outbox.messages()); n > 0 {
		return fmt.Errorf("expected no email but %d were sent", n)
	}
	return nil
}

func (tc *TestContext) providerSignedOut(context.Context) error {
	if tc.signOuts.Load() == 0 {
		return fmt.Errorf("the identity provider was not signed out")
	}
	return nil
}

func (tc *TestContext) sessionExpiresIn(_ context.Context, minutes int) error {
	raw, err := tc.GetResponseField("sessionExpiry")
	if err != nil {
		return err
	}
	expiry, err := time.Parse(time.RFC3339Nano, fmt.Sprint(raw))
	if err != nil {
		return fmt.Errorf("parse sessionExpiry: %w", err)
	}
	want := time.Now().Add(time.Duration(minutes) * time.Minute)
	if d := expiry.Sub(want); d < -time.Minute || d > time.Minute {
		return fmt.Errorf("session expires at %s, expected about %s", expiry, want)
	}
	return nil
}

func (tc *TestContext) codeOnlyInFallback(ctx context.Context) error {
	remote, err := tc.remote.List(ctx, models.CollectionTokens)
	if err != nil {
		return err
	}
	if len(remote) > 0 {
		return fmt.Errorf("expected no token in the remote store but found %d", len(remote))
	}
	keys, err := tc.fallback.Keys(ctx, resilient.FallbackPrefix+models.CollectionTokens+"_")
	if err != nil {
		return err
	}
	if len(keys) != 1 {
		return fmt.Errorf("expected one fallback token record but found %d", len(keys))
	}
	return nil
}
