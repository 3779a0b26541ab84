package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
	"github.com/aryan0dhankhar/sitefactory/internal/infrastructure/platform"
	"github.com/aryan0dhankhar/sitefactory/internal/repository"
	"github.com/aryan0dhankhar/sitefactory/internal/security/audit"
)

func TestUsernameBase(t *testing.T) {
	assert.Equal(t, "john.doe_example.com", UsernameBase("John.Doe@example.com"))
	assert.Equal(t, "atag_x.com", UsernameBase("a+tag@x.com"))
	assert.Equal(t, "admin", UsernameBase("+++"))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "John Doe", DisplayName("john.doe@example.com"))
	assert.Equal(t, "Mary Ann Smith", DisplayName("MARY_ANN.smith@x.com"))
}

func TestGeneratePassword(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		pw, err := GeneratePassword(PasswordLength)
		require.NoError(t, err)
		require.Len(t, pw, PasswordLength)
		for _, r := range pw {
			assert.Contains(t, passwordAlphabet, string(r))
		}
		seen[pw] = true
	}
	assert.Len(t, seen, 50)
}

func newDirectory(t *testing.T, maxAttempts int) (*UserDirectory, *repository.MemoryAccountRepository, *platform.Memory, *audit.MemorySink) {
	t.Helper()
	accounts := repository.NewMemoryAccountRepository()
	plat := platform.NewMemory()
	sink := audit.NewMemorySink()
	return NewUserDirectory(accounts, plat, audit.NewLogger(quiet, sink), quiet, maxAttempts), accounts, plat, sink
}

func TestFindOrCreateAdminSuffixesUsername(t *testing.T) {
	d, accounts, _, _ := newDirectory(t, 5)
	ctx := context.Background()
	require.NoError(t, accounts.Create(ctx, &domain.AdminAccount{Email: "other@y.com", Username: "a_x.com"}))
	require.NoError(t, accounts.Create(ctx, &domain.AdminAccount{Email: "other2@y.com", Username: "a_x.com_1"}))

	account, err := d.FindOrCreateAdmin(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "a_x.com_2", account.Username)
	require.NotNil(t, account.Credential)

	again, err := d.FindOrCreateAdmin(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, account.ID, again.ID)
	assert.Nil(t, again.Credential)
}

func TestFindOrCreateAdminUsernameCap(t *testing.T) {
	d, accounts, _, _ := newDirectory(t, 2)
	ctx := context.Background()
	require.NoError(t, accounts.Create(ctx, &domain.AdminAccount{Email: "o1@y.com", Username: "a_x.com"}))
	require.NoError(t, accounts.Create(ctx, &domain.AdminAccount{Email: "o2@y.com", Username: "a_x.com_1"}))

	_, err := d.FindOrCreateAdmin(ctx, "a@x.com")
	assert.ErrorIs(t, err, ErrUsernameExhausted)
}

func TestBindAndDetach(t *testing.T) {
	d, _, plat, sink := newDirectory(t, 5)
	ctx := context.Background()
	siteID, err := plat.CreateSite(ctx, domain.SiteSpec{Slug: "acme"})
	require.NoError(t, err)

	account, err := d.FindOrCreateAdmin(ctx, "a@x.com")
	require.NoError(t, err)
	require.NoError(t, d.Bind(ctx, account, siteID))

	sites, err := d.SitesOf(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, domain.RoleAdministrator, sites[0].Role)

	require.NoError(t, d.Detach(ctx, account.ID, siteID))
	sites, err = d.SitesOf(ctx, account.ID)
	require.NoError(t, err)
	assert.Empty(t, sites)
	site, _ := plat.Site(siteID)
	assert.NotContains(t, site.Admins, account.ID)

	recs := sink.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, audit.ActionUserDetached, recs[0].Action)

	err = d.Detach(ctx, account.ID, siteID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestNotifierComposesAndErases(t *testing.T) {
	account := &domain.AdminAccount{
		Email:       "a@x.com",
		Username:    "a_x.com",
		DisplayName: "A",
		Credential:  domain.NewTemporaryCredential("Secret123abc"),
	}
	msg := ComposeWelcome(Welcome{SiteName: "Acme", SiteURL: "https://s/acme/", AdminURL: "https://s/acme/wp-admin/", Account: account})
	assert.Equal(t, "Welcome to Acme - Your New Website", msg.Subject)
	assert.Contains(t, msg.Body, "Hello A,")
	assert.Contains(t, msg.Body, "Password: Secret123abc")
	assert.Contains(t, msg.Body, "Admin URL: https://s/acme/wp-admin/")

	again := ComposeWelcome(Welcome{SiteName: "Acme", Account: account})
	assert.NotContains(t, again.Body, "Secret123abc")
	assert.Contains(t, again.Body, "use your existing password")
}
