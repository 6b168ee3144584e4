// Package siteconfig holds the Site/GlobalConfig data model, its on-disk
// persistence, and the effective-config merge the proxy engine consults on
// every request.
package siteconfig

import (
	"sync"
)

// MediaPolicy controls how the rewriter treats media/download URLs.
type MediaPolicy string

const (
	MediaPolicyBypass      MediaPolicy = "bypass"
	MediaPolicyProxy       MediaPolicy = "proxy"
	MediaPolicySizeLimited MediaPolicy = "size_limited"
)

// SessionMode controls whether the cookie jar is consulted for a site.
type SessionMode string

const (
	SessionModeStateless SessionMode = "stateless"
	SessionModeCookieJar SessionMode = "cookie_jar"
)

// Overrides is the field set shared by Site (per-site overrides) and
// GlobalConfig (defaults). Pointer/empty-string fields mean "inherit" —
// nil/"" is not a valid explicit value for any of these knobs.
type Overrides struct {
	ProxySubdomains      *bool       `yaml:"proxy_subdomains,omitempty" json:"proxy_subdomains,omitempty"`
	ProxyExternalDomains *bool       `yaml:"proxy_external_domains,omitempty" json:"proxy_external_domains,omitempty"`
	RewriteJSRedirects   *bool       `yaml:"rewrite_js_redirects,omitempty" json:"rewrite_js_redirects,omitempty"`
	RemoveAds            *bool       `yaml:"remove_ads,omitempty" json:"remove_ads,omitempty"`
	InjectAds            *bool       `yaml:"inject_ads,omitempty" json:"inject_ads,omitempty"`
	RemoveAnalytics      *bool       `yaml:"remove_analytics,omitempty" json:"remove_analytics,omitempty"`
	MediaPolicy          MediaPolicy `yaml:"media_policy,omitempty" json:"media_policy,omitempty"`
	SessionMode          SessionMode `yaml:"session_mode,omitempty" json:"session_mode,omitempty"`
	CustomAdHTML         string      `yaml:"custom_ad_html,omitempty" json:"custom_ad_html,omitempty"`
	CustomTrackerJS      string      `yaml:"custom_tracker_js,omitempty" json:"custom_tracker_js,omitempty"`
}

// Site is an operator-managed mirror binding. Never created or edited by the
// proxy engine itself — only by the admin collaborator.
type Site struct {
	ID         string `yaml:"id" json:"id"`
	MirrorRoot string `yaml:"mirror_root" json:"mirror_root"`
	SourceRoot string `yaml:"source_root" json:"source_root"`
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Overrides  `yaml:",inline" json:",inline"`
}

// GlobalConfig is the singleton default overlay beneath every Site.
type GlobalConfig struct {
	Overrides `yaml:",inline" json:",inline"`
}

// EffectiveConfig is the fully-resolved, per-request configuration: site
// field if set, else global field, else hardcoded default.
type EffectiveConfig struct {
	ProxySubdomains      bool
	ProxyExternalDomains bool
	RewriteJSRedirects   bool
	RemoveAds            bool
	InjectAds            bool
	RemoveAnalytics      bool
	MediaPolicy          MediaPolicy
	SessionMode          SessionMode
	CustomAdHTML         string
	CustomTrackerJS      string
}

// hardDefaults are the spec's hardcoded fallback values, used when neither
// the site nor GlobalConfig sets a field.
var hardDefaults = EffectiveConfig{
	ProxySubdomains:      true,
	ProxyExternalDomains: true,
	RewriteJSRedirects:   true,
	MediaPolicy:          MediaPolicyProxy,
	SessionMode:          SessionModeStateless,
}

// Effective computes the per-request merge: site overrides > global
// defaults > hardcoded defaults.
func Effective(site *Site, global GlobalConfig) EffectiveConfig {
	eff := hardDefaults
	overlay(&eff, global.Overrides)
	if site != nil {
		overlay(&eff, site.Overrides)
	}
	return eff
}

func overlay(eff *EffectiveConfig, o Overrides) {
	if o.ProxySubdomains != nil {
		eff.ProxySubdomains = *o.ProxySubdomains
	}
	if o.ProxyExternalDomains != nil {
		eff.ProxyExternalDomains = *o.ProxyExternalDomains
	}
	if o.RewriteJSRedirects != nil {
		eff.RewriteJSRedirects = *o.RewriteJSRedirects
	}
	if o.RemoveAds != nil {
		eff.RemoveAds = *o.RemoveAds
	}
	if o.InjectAds != nil {
		eff.InjectAds = *o.InjectAds
	}
	if o.RemoveAnalytics != nil {
		eff.RemoveAnalytics = *o.RemoveAnalytics
	}
	if o.MediaPolicy != "" {
		eff.MediaPolicy = o.MediaPolicy
	}
	if o.SessionMode != "" {
		eff.SessionMode = o.SessionMode
	}
	if o.CustomAdHTML != "" {
		eff.CustomAdHTML = o.CustomAdHTML
	}
	if o.CustomTrackerJS != "" {
		eff.CustomTrackerJS = o.CustomTrackerJS
	}
}

// Document is the on-disk shape of the sites file (server.sites_file), which
// is separate from config.yaml.
type Document struct {
	Global GlobalConfig `yaml:"global_config"`
	Sites  []*Site      `yaml:"sites"`
}

// Store holds Sites and GlobalConfig in memory, backed by a YAML file. The
// core only ever reads from it (via Resolve/ResolveEffective); the admin collaborator
// is the only writer.
type Store struct {
	path string

	mu     sync.RWMutex
	global GlobalConfig
	sites  map[string]*Site // keyed by lowercased mirror_root
	order  []string         // lowercased mirror_root keys in file order, for stable Save/List output
}
