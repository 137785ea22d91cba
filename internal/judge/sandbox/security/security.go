// Package security defines sandbox isolation profiles.
package security

// IsolationProfile describes how one task is confined.
// RootFS and SeccompProfile are used by the namespace sandbox, Image and User by the docker backend.
type IsolationProfile struct {
	RootFS         string
	SeccompProfile string
	DisableNetwork bool
	Image          string
	User           string
}
