package siteconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads Sites/GlobalConfig from a YAML file. A missing file yields an
// empty, valid Store (no sites configured yet), matching the teacher's
// "return defaults if file doesn't exist" behavior in config.Load.
func Load(path string) (*Store, error) {
	s := &Store{
		path:  path,
		sites: make(map[string]*Site),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read site config: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse site config: %w", err)
	}

	s.global = doc.Global
	for _, site := range doc.Sites {
		if site.ID == "" {
			site.ID = site.MirrorRoot
		}
		key := strings.ToLower(site.MirrorRoot)
		s.sites[key] = site
		s.order = append(s.order, key)
	}
	return s, nil
}

// Save writes the current Sites/GlobalConfig back to the backing YAML file.
func (s *Store) Save() error {
	s.mu.RLock()
	doc := Document{Global: s.global}
	for _, key := range s.order {
		if site, ok := s.sites[key]; ok {
			doc.Sites = append(doc.Sites, site)
		}
	}
	s.mu.RUnlock()

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal site config: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	return os.WriteFile(s.path, data, 0o600)
}

// GlobalConfig returns a copy of the current global defaults.
func (s *Store) GlobalConfig() GlobalConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global
}

// SetGlobalConfig replaces the global defaults (admin-only operation).
func (s *Store) SetGlobalConfig(g GlobalConfig) {
	s.mu.Lock()
	s.global = g
	s.mu.Unlock()
}

// ListSites returns a snapshot of all sites in stable order.
func (s *Store) ListSites() []*Site {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Site, 0, len(s.order))
	for _, key := range s.order {
		if site, ok := s.sites[key]; ok {
			cp := *site
			out = append(out, &cp)
		}
	}
	return out
}

// PutSite inserts or replaces a site, keyed by its (lowercased) mirror_root.
// Invariant: mirror_root is unique across enabled sites — callers (the admin
// collaborator) are responsible for rejecting a collision before calling this.
func (s *Store) PutSite(site *Site) {
	key := strings.ToLower(site.MirrorRoot)
	site.MirrorRoot = key

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sites[key]; !exists {
		s.order = append(s.order, key)
	}
	s.sites[key] = site
}

// DeleteSite removes a site by mirror_root (case-insensitive).
func (s *Store) DeleteSite(mirrorRoot string) {
	key := strings.ToLower(mirrorRoot)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sites[key]; !ok {
		return
	}
	delete(s.sites, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Resolve implements the Site Resolver (spec §4.6): exact match first, then
// the longest-suffix enabled site such that host == prefix + "." + mirror_root.
// host must already be lowercased and port-stripped by the caller.
func (s *Store) Resolve(host string) (*Site, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if site, ok := s.sites[host]; ok && site.Enabled {
		cp := *site
		return &cp, true
	}

	var best *Site
	for _, site := range s.sites {
		if !site.Enabled {
			continue
		}
		suffix := "." + site.MirrorRoot
		if !strings.HasSuffix(host, suffix) {
			continue
		}
		if best == nil || len(site.MirrorRoot) > len(best.MirrorRoot) {
			best = site
		}
	}
	if best == nil {
		return nil, false
	}
	cp := *best
	return &cp, true
}

// ResolveEffective resolves the host to a site and its EffectiveConfig in one
// call, the shape the proxy engine actually wants on every request.
func (s *Store) ResolveEffective(host string) (*Site, EffectiveConfig, bool) {
	site, ok := s.Resolve(host)
	if !ok {
		return nil, EffectiveConfig{}, false
	}
	return site, Effective(site, s.GlobalConfig()), true
}
