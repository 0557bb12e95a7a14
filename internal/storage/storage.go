// Package storage defines the per-client key-value store that holds what the
// storefront SPA keeps in browser local storage.
package storage

import "context"

// Client store keys.
const (
	KeyToken            = "token"
	KeyEmail            = "email"
	KeyBasket           = "basket"
	KeySelectedProducts = "selectedProducts"
	KeyBasketTotal      = "basketTotal"
	KeyLanguage         = "i18nextLng"
	KeyCookieSave       = "cookieSave"
	KeyPreferences      = "preferences"
	KeyMarketing        = "marketing"
	KeyCookieVersion    = "COOKIE_VERSION"
	KeyPaths            = "paths"
	KeyCurrentSku       = "currentSku"
	KeyPasswords        = "passwords"
	KeyOTP              = "otp"
	KeyBasketMode       = "basketMode"
	// KeyPendingMigration lists variant ids of lines a login could not push
	// to the server basket yet.
	KeyPendingMigration = "pendingMigration"
)

// DerivedBasketKeys are written together with the basket snapshot.
var DerivedBasketKeys = []string{KeySelectedProducts, KeyBasketTotal}

// SessionKeys are removed on logout together with the basket keys.
var SessionKeys = []string{KeyToken, KeyEmail, KeyOTP, KeyPasswords, KeyCurrentSku, KeyPendingMigration}

// ConsentKeys hold the cookie banner choice.
var ConsentKeys = []string{KeyCookieSave, KeyPreferences, KeyMarketing, KeyCookieVersion}

// CheckFunc decides whether a compare-and-swap may proceed given the current
// value of the key. exists is false when the key is absent.
type CheckFunc func(current string, exists bool) bool

// ClientStore is a string-keyed store partitioned by client id.
type ClientStore interface {
	// Get returns the value of key. ok is false when the key is absent.
	Get(ctx context.Context, clientID, key string) (value string, ok bool, err error)
	// GetMany returns the present keys among keys.
	GetMany(ctx context.Context, clientID string, keys ...string) (map[string]string, error)
	// Set writes all values at once.
	Set(ctx context.Context, clientID string, values map[string]string) error
	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, clientID string, keys ...string) error
	// CompareAndSwap writes values in one transaction if check accepts the
	// current value of key and nobody changed the key in between. values
	// normally holds key itself. It reports whether the write happened.
	CompareAndSwap(ctx context.Context, clientID, key string, check CheckFunc, values map[string]string) (bool, error)
}

// UserIndex remembers which clients an authenticated user logged in from, so
// account-wide resets can reach every one of them.
type UserIndex interface {
	BindUser(ctx context.Context, userID, clientID string) error
	UnbindClient(ctx context.Context, userID, clientID string) error
	ClientsOf(ctx context.Context, userID string) ([]string, error)
	ForgetUser(ctx context.Context, userID string) error
}
