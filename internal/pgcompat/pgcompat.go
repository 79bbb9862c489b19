// Package pgcompat detects server version and optional features.
//
// Results are cached per connection target in an explicit Cache owned by the
// Probe. Tests call Reset between scenarios.
package pgcompat

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	pgerrors "github.com/koltyakov/pgadvisor/internal/errors"
	"github.com/koltyakov/pgadvisor/internal/pgdb"
)

// ServerInfo is the detected server version.
type ServerInfo struct {
	VersionNum int // e.g. 170002
	Major      int // e.g. 17
}

// Extension reports extension availability.
type Extension struct {
	Name             string
	Installed        bool
	InstalledVersion string
	AvailableVersion string
}

// Cache holds probe results keyed by connection target.
type Cache struct {
	mu      sync.Mutex
	servers map[string]ServerInfo
	columns map[columnKey]bool
}

type columnKey struct {
	target, schema, relation, column string
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{servers: map[string]ServerInfo{}, columns: map[columnKey]bool{}}
}

// Reset drops all cached results.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.servers = map[string]ServerInfo{}
	c.columns = map[columnKey]bool{}
}

// Probe answers capability questions for one target.
type Probe struct {
	q      pgdb.Querier
	target string
	cache  *Cache
}

// NewProbe binds q to cache. A nil cache gets a private one.
// If q implements pgdb.Target its target string keys the cache.
func NewProbe(q pgdb.Querier, cache *Cache) *Probe {
	if cache == nil {
		cache = NewCache()
	}
	target := fmt.Sprintf("%p", q)
	if t, ok := q.(pgdb.Target); ok {
		target = t.Target()
	}
	return &Probe{q: q, target: target, cache: cache}
}

// Reset clears the probe's cache.
func (p *Probe) Reset() { p.cache.Reset() }

var majorRe = regexp.MustCompile(`(\d+)`)

// ServerInfo reads server_version_num, falling back to server_version.
func (p *Probe) ServerInfo(ctx context.Context) (ServerInfo, error) {
	p.cache.mu.Lock()
	cached, ok := p.cache.servers[p.target]
	p.cache.mu.Unlock()
	if ok {
		return cached, nil
	}

	var info ServerInfo
	if row, err := pgdb.QueryOne(ctx, p.q, `SHOW server_version_num`); err == nil && row != nil {
		info.VersionNum, _ = strconv.Atoi(row.String("server_version_num"))
		if info.VersionNum >= 10000 {
			info.Major = info.VersionNum / 10000
		} else {
			info.Major = info.VersionNum
		}
	}

	if info.Major == 0 {
		row, err := pgdb.QueryOne(ctx, p.q, `SHOW server_version`)
		if err != nil {
			return ServerInfo{}, fmt.Errorf("determine server version: %w", err)
		}
		if m := majorRe.FindString(row.String("server_version")); m != "" {
			info.Major, _ = strconv.Atoi(m)
			info.VersionNum = info.Major * 10000
		}
	}
	if info.Major == 0 {
		return ServerInfo{}, pgerrors.NewCapabilityError("server_version", "Could not determine the PostgreSQL server version.", pgerrors.ErrVersionUnsupported)
	}

	p.cache.mu.Lock()
	p.cache.servers[p.target] = info
	p.cache.mu.Unlock()
	return info, nil
}

const hasColumnSQL = `SELECT EXISTS (
	SELECT 1
	FROM pg_catalog.pg_attribute a
	JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
	JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
	WHERE ($1 = '' OR n.nspname = $1)
	  AND c.relname = $2
	  AND a.attname = $3
	  AND a.attnum > 0
	  AND NOT a.attisdropped
) AS has_column`

// HasColumn reports whether relation exposes column. An empty schema matches any.
func (p *Probe) HasColumn(ctx context.Context, schema, relation, column string) (bool, error) {
	key := columnKey{p.target, schema, relation, column}
	p.cache.mu.Lock()
	cached, ok := p.cache.columns[key]
	p.cache.mu.Unlock()
	if ok {
		return cached, nil
	}

	row, err := pgdb.QueryOne(ctx, p.q, hasColumnSQL, schema, relation, column)
	if err != nil {
		return false, err
	}
	has := row != nil && row.Bool("has_column")

	p.cache.mu.Lock()
	p.cache.columns[key] = has
	p.cache.mu.Unlock()
	return has, nil
}

// Extension reports whether name is installed and which versions exist.
// Extension state is not cached; it changes with CREATE EXTENSION.
func (p *Probe) Extension(ctx context.Context, name string) (Extension, error) {
	row, err := pgdb.QueryOne(ctx, p.q,
		`SELECT name, installed_version, default_version FROM pg_available_extensions WHERE name = $1`, name)
	if err != nil {
		return Extension{}, err
	}
	ext := Extension{Name: name}
	if row == nil {
		return ext, nil
	}
	ext.InstalledVersion = row.String("installed_version")
	ext.AvailableVersion = row.String("default_version")
	ext.Installed = ext.InstalledVersion != ""
	return ext, nil
}

// RequireExtension returns a CapabilityError with guidance when name is not installed.
func (p *Probe) RequireExtension(ctx context.Context, name string) (Extension, error) {
	ext, err := p.Extension(ctx, name)
	if err != nil {
		return ext, err
	}
	if ext.Installed {
		return ext, nil
	}
	return ext, pgerrors.NewCapabilityError(name, InstallGuidance(ext), pgerrors.ErrExtensionMissing)
}

// InstallGuidance explains how to make ext available.
func InstallGuidance(ext Extension) string {
	if ext.AvailableVersion != "" {
		return fmt.Sprintf("The %s extension (version %s) is available but not installed. Run: CREATE EXTENSION %s;",
			ext.Name, ext.AvailableVersion, ext.Name)
	}
	return fmt.Sprintf("The %s extension is not available on this server. Install the %s package for your PostgreSQL version, then run: CREATE EXTENSION %s;",
		ext.Name, ext.Name, ext.Name)
}

// SupportsGenericPlan reports EXPLAIN (GENERIC_PLAN) support, added in PostgreSQL 16.
func (s ServerInfo) SupportsGenericPlan() bool { return s.Major >= 16 }

// SupportsSkipScan reports btree skip scan support, added in PostgreSQL 18.
func (s ServerInfo) SupportsSkipScan() bool { return s.Major >= 18 }
