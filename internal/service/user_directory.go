package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
	"github.com/aryan0dhankhar/sitefactory/internal/security/audit"
)

// PasswordLength is the length of generated temporary passwords
const PasswordLength = 12

const (
	passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxUsernameBase  = 50
)

// ErrUsernameExhausted is returned when every username suffix is taken
var ErrUsernameExhausted = errors.New("no free username")

// UserDirectory finds or creates network administrators and binds them to
// tenant sites.
type UserDirectory struct {
	accounts    domain.AccountRepository
	platform    domain.SitePlatform
	audit       *audit.Logger
	logger      *slog.Logger
	maxAttempts int
	now         func() time.Time
}

func NewUserDirectory(accounts domain.AccountRepository, platform domain.SitePlatform, auditLogger *audit.Logger, logger *slog.Logger, maxAttempts int) *UserDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts < 1 {
		maxAttempts = 1000
	}
	return &UserDirectory{
		accounts:    accounts,
		platform:    platform,
		audit:       auditLogger,
		logger:      logger,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// FindOrCreateAdmin returns the account registered for email, creating it
// when missing. A created account carries its temporary password in
// Credential; an existing account is returned untouched.
func (d *UserDirectory) FindOrCreateAdmin(ctx context.Context, email string) (*domain.AdminAccount, error) {
	existing, err := d.accounts.GetByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	password, err := GeneratePassword(PasswordLength)
	if err != nil {
		return nil, fmt.Errorf("generate password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	base := UsernameBase(email)
	for n := 0; n < d.maxAttempts; n++ {
		username := base
		if n > 0 {
			username = base + "_" + strconv.Itoa(n)
		}
		taken, err := d.accounts.UsernameExists(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("check username: %w", err)
		}
		if taken {
			continue
		}

		account := &domain.AdminAccount{
			Email:        email,
			Username:     username,
			DisplayName:  DisplayName(email),
			PasswordHash: string(hash),
			CreatedAt:    d.now().UTC(),
		}
		err = d.accounts.Create(ctx, account)
		switch {
		case err == nil:
			account.Credential = domain.NewTemporaryCredential(password)
			d.logger.Info("admin account created",
				slog.Int64("account_id", account.ID),
				slog.String("username", username),
			)
			return account, nil
		case errors.Is(err, domain.ErrUsernameTaken):
			continue
		case errors.Is(err, domain.ErrEmailTaken):
			// lost a race with a concurrent request for the same email
			return d.accounts.GetByEmail(ctx, email)
		default:
			return nil, fmt.Errorf("create account: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrUsernameExhausted, base, d.maxAttempts)
}

// Bind makes account an administrator of siteID on the platform and in the
// role registry.
func (d *UserDirectory) Bind(ctx context.Context, account *domain.AdminAccount, siteID int64) error {
	user := domain.PlatformUser{
		AccountID:   account.ID,
		Username:    account.Username,
		Email:       account.Email,
		DisplayName: account.DisplayName,
	}
	if account.Credential != nil {
		user.PasswordHash = account.PasswordHash
	}
	if err := d.platform.AddAdministrator(ctx, siteID, user); err != nil {
		return fmt.Errorf("add administrator on platform: %w", err)
	}
	err := d.accounts.BindRole(ctx, domain.RoleBinding{
		AccountID: account.ID,
		SiteID:    siteID,
		Role:      domain.RoleAdministrator,
		CreatedAt: d.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("bind role: %w", err)
	}
	return nil
}

// SitesOf lists the sites accountID administers
func (d *UserDirectory) SitesOf(ctx context.Context, accountID int64) ([]domain.RoleBinding, error) {
	return d.accounts.ListBindings(ctx, accountID)
}

// Detach removes accountID from siteID. The account itself is kept.
func (d *UserDirectory) Detach(ctx context.Context, accountID, siteID int64) error {
	if err := d.platform.RemoveUser(ctx, siteID, accountID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("remove user from platform: %w", err)
	}
	if err := d.accounts.UnbindRole(ctx, accountID, siteID); err != nil {
		return fmt.Errorf("unbind role: %w", err)
	}
	if d.audit != nil {
		d.audit.Record(ctx, audit.Record{
			Action:  audit.ActionUserDetached,
			Outcome: "success",
			SiteID:  siteID,
			Details: map[string]any{"account_id": accountID},
		})
	}
	return nil
}

// UsernameBase derives a login name from the whole address with "@"
// replaced by "_". Characters outside [a-z0-9._-] are dropped.
func UsernameBase(email string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.ReplaceAll(email, "@", "_")) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	name := b.String()
	if len(name) > maxUsernameBase {
		name = name[:maxUsernameBase]
	}
	if name == "" {
		name = "admin"
	}
	return name
}

// DisplayName title-cases the local part of email, treating "." and "_" as
// word breaks.
func DisplayName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	local = strings.NewReplacer(".", " ", "_", " ").Replace(strings.ToLower(local))
	return cases.Title(language.Und).String(strings.Join(strings.Fields(local), " "))
}

// GeneratePassword returns n random alphanumeric characters
func GeneratePassword(n int) (string, error) {
	max := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = passwordAlphabet[idx.Int64()]
	}
	return string(out), nil
}
