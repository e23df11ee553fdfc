package cache

import (
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"
)

// PartitionPrefix is prepended to tier names to form storage partitions
const PartitionPrefix = "cache/"

// Tier identifies one cache bucket by role
type Tier string

const (
	TierCritical Tier = "critical"
	TierStatic   Tier = "static"
	TierDynamic  Tier = "dynamic"
	TierImages   Tier = "images"
	TierAPI      Tier = "api"
	TierFonts    Tier = "fonts"
)

// AllTiers lists every tier role
var AllTiers = []Tier{TierCritical, TierStatic, TierDynamic, TierImages, TierAPI, TierFonts}

// Tiers maps tier roles to versioned names such as amino-gym-static-v4
type Tiers struct {
	Prefix  string
	Version int
}

// Name returns the versioned tier name. The critical tier carries no role
// suffix.
func (t Tiers) Name(tier Tier) string {
	if tier == TierCritical {
		return fmt.Sprintf("%s-v%d", t.Prefix, t.Version)
	}
	return fmt.Sprintf("%s-%s-v%d", t.Prefix, tier, t.Version)
}

// Partition returns the storage partition holding the tier
func (t Tiers) Partition(tier Tier) string {
	return PartitionPrefix + t.Name(tier)
}

// Current returns the partition names of the current version
func (t Tiers) Current() map[string]bool {
	out := make(map[string]bool, len(AllTiers))
	for _, tier := range AllTiers {
		out[t.Partition(tier)] = true
	}
	return out
}

// VersionTag is the value stored as the active cache version
func (t Tiers) VersionTag() string {
	return fmt.Sprintf("%s-v%d", t.Prefix, t.Version)
}

// Class is the kind of request, which selects strategy and tier
type Class string

const (
	ClassAPI        Class = "api"
	ClassImage      Class = "image"
	ClassStatic     Class = "static"
	ClassFont       Class = "font"
	ClassAudio      Class = "audio"
	ClassNavigation Class = "navigation"
	ClassDynamic    Class = "dynamic"
)

var (
	imageExts  = extSet("png", "jpg", "jpeg", "gif", "svg", "ico", "webp")
	staticExts = extSet("js", "css")
	fontExts   = extSet("woff", "woff2", "ttf", "eot", "otf")
	audioExts  = extSet("mp3", "wav", "ogg", "m4a")

	// long lived assets get the 24h freshness window
	longLivedExts = extSet("js", "css", "woff", "woff2", "ttf", "eot", "png", "jpg", "jpeg", "gif", "svg", "ico")
)

func extSet(exts ...string) map[string]bool {
	m := make(map[string]bool, len(exts))
	for _, e := range exts {
		m[e] = true
	}
	return m
}

func ext(p string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
}

// Classify picks the request class. Checks run in priority order: API
// prefix, image, script/style, font, audio, navigation, everything else.
func Classify(r *http.Request) Class {
	p := r.URL.Path
	e := ext(p)

	switch {
	case strings.HasPrefix(p, "/api/"):
		return ClassAPI
	case r.Header.Get("Sec-Fetch-Dest") == "image" || imageExts[e]:
		return ClassImage
	case staticExts[e]:
		return ClassStatic
	case fontExts[e]:
		return ClassFont
	case audioExts[e]:
		return ClassAudio
	case isNavigation(r):
		return ClassNavigation
	default:
		return ClassDynamic
	}
}

func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}

// Expiry returns the freshness window used by the cache-first strategy
func Expiry(p string) time.Duration {
	if longLivedExts[ext(p)] {
		return 24 * time.Hour
	}
	return time.Hour
}

// CriticalResources are primed into the critical tier at install
var CriticalResources = []string{
	"/",
	"/index.html",
	"/home",
	"/login",
	"/yacin-gym-logo.png",
	"/success-sound.mp3",
	"/manifest.json",
	"/vite.svg",
}

// StaticAssets are primed into the static tier at install
var StaticAssets = []string{
	"/manifest.json",
	"/yacin-gym-logo.png",
	"/success-sound.mp3",
	"/vite.svg",
}

// AppRoutes are client-side routes served from the cached app shell
var AppRoutes = []string{
	"/",
	"/home",
	"/login",
	"/reports",
	"/settings",
	"/payments",
	"/attendance",
}

// IsAppRoute reports whether p is an app route or below one
func IsAppRoute(routes []string, p string) bool {
	for _, route := range routes {
		if matchRoute(route, p) {
			return true
		}
	}
	return false
}

// matchRoute is an exact match, or a prefix match on a path segment boundary
func matchRoute(route, p string) bool {
	if p == route {
		return true
	}
	if route == "/" {
		return false
	}
	return strings.HasPrefix(p, route+"/")
}
