package jobs

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/bimzik/backend/internal/models"
)

var (
	uuidPattern  = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	hex32Pattern = regexp.MustCompile(`(?i)^[0-9a-f]{32}$`)
)

// ResolveAudioID returns the provider's clip id for a, preferring the stored
// value and falling back to the id embedded in the provider CDN file name.
// It returns "" when neither yields one.
func ResolveAudioID(a *models.AudioArtifact) string {
	if a.ProviderAudioID != "" {
		return a.ProviderAudioID
	}
	return audioIDFromURL(a.FileURL)
}

func audioIDFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	stem := strings.TrimSuffix(path.Base(u.Path), path.Ext(u.Path))
	if m := uuidPattern.FindString(stem); m != "" {
		return strings.ToLower(m)
	}
	if hex32Pattern.MatchString(stem) {
		return strings.ToLower(stem)
	}
	return ""
}
