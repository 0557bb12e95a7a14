package domain

// CookieConsent is the visitor's cookie choice. Necessary cookies are always
// on. Required is set when no valid consent is stored and the banner must be
// shown.
type CookieConsent struct {
	Necessary   bool   `json:"necessary"`
	Preferences bool   `json:"preferences"`
	Marketing   bool   `json:"marketing"`
	Version     string `json:"version"`
	Required    bool   `json:"required"`
}
