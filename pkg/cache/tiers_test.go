package cache

import (
	"net/http/httptest"
	"testing"
	"time"
)

// TestClassify tests request classification
func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		headers  map[string]string
		expected Class
	}{
		{
			name:     "api prefix",
			path:     "/api/members",
			expected: ClassAPI,
		},
		{
			name:     "api prefix wins over image extension",
			path:     "/api/avatar.png",
			expected: ClassAPI,
		},
		{
			name:     "image by extension",
			path:     "/yacin-gym-logo.png",
			expected: ClassImage,
		},
		{
			name:     "image by fetch destination",
			path:     "/avatar",
			headers:  map[string]string{"Sec-Fetch-Dest": "image"},
			expected: ClassImage,
		},
		{
			name:     "uppercase extension",
			path:     "/PHOTO.JPG",
			expected: ClassImage,
		},
		{
			name:     "script",
			path:     "/assets/index-abc123.js",
			expected: ClassStatic,
		},
		{
			name:     "stylesheet",
			path:     "/assets/index.css",
			expected: ClassStatic,
		},
		{
			name:     "font",
			path:     "/fonts/cairo.woff2",
			expected: ClassFont,
		},
		{
			name:     "audio",
			path:     "/success-sound.mp3",
			expected: ClassAudio,
		},
		{
			name:     "navigation by fetch mode",
			path:     "/reports",
			headers:  map[string]string{"Sec-Fetch-Mode": "navigate"},
			expected: ClassNavigation,
		},
		{
			name:     "navigation by accept header",
			path:     "/home",
			headers:  map[string]string{"Accept": "text/html,application/xhtml+xml"},
			expected: ClassNavigation,
		},
		{
			name:     "everything else",
			path:     "/manifest.json",
			expected: ClassDynamic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.path, nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := Classify(r); got != tt.expected {
				t.Errorf("Classify(%s) = %s, want %s", tt.path, got, tt.expected)
			}
		})
	}
}

// TestIsAppRoute tests app route matching
func TestIsAppRoute(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"/", true},
		{"/home", true},
		{"/payments/123", true},
		{"/attendance/today/list", true},
		{"/homepage", false},
		{"/unknown", false},
		{"//", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := IsAppRoute(AppRoutes, tt.path); got != tt.expected {
				t.Errorf("IsAppRoute(%s) = %v, want %v", tt.path, got, tt.expected)
			}
		})
	}
}

// TestTierNames tests versioned tier naming
func TestTierNames(t *testing.T) {
	tiers := Tiers{Prefix: "amino-gym", Version: 4}

	expected := map[Tier]string{
		TierCritical: "amino-gym-v4",
		TierStatic:   "amino-gym-static-v4",
		TierDynamic:  "amino-gym-dynamic-v4",
		TierImages:   "amino-gym-images-v4",
		TierAPI:      "amino-gym-api-v4",
		TierFonts:    "amino-gym-fonts-v4",
	}
	for tier, name := range expected {
		if got := tiers.Name(tier); got != name {
			t.Errorf("Name(%s) = %s, want %s", tier, got, name)
		}
		if got := tiers.Partition(tier); got != "cache/"+name {
			t.Errorf("Partition(%s) = %s, want cache/%s", tier, got, name)
		}
	}

	if len(tiers.Current()) != len(AllTiers) {
		t.Errorf("Current() has %d entries, want %d", len(tiers.Current()), len(AllTiers))
	}
}

// TestExpiry tests freshness windows
func TestExpiry(t *testing.T) {
	tests := []struct {
		path     string
		expected time.Duration
	}{
		{"/assets/app.js", 24 * time.Hour},
		{"/fonts/a.woff2", 24 * time.Hour},
		{"/logo.png", 24 * time.Hour},
		{"/photo.webp", time.Hour},
		{"/success-sound.mp3", time.Hour},
	}

	for _, tt := range tests {
		if got := Expiry(tt.path); got != tt.expected {
			t.Errorf("Expiry(%s) = %v, want %v", tt.path, got, tt.expected)
		}
	}
}
