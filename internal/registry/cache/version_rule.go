package cache

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/coreos/go-semver/semver"

	"github.com/heytom-labs/heytom-registry/internal/registry"
)

// ErrInvalidVersionRule is returned for a rule that cannot be parsed.
var ErrInvalidVersionRule = errors.New("invalid version rule")

// VersionRule selects instances by version.
//
// Supported forms:
//
//	latest        instances of the highest version
//	1.0.0+        versions >= 1.0.0 (0+ or "" selects all)
//	1.0.0-2.0.0   versions >= 1.0.0 and < 2.0.0
//	1.0.0         exactly 1.0.0
//
// Short versions are padded, so 1 and 1.0 both mean 1.0.0. A fourth numeric
// component (1.0.0.3) is kept as build metadata and ordered numerically.
type VersionRule interface {
	Match(version semver.Version) bool
	Select(instances []*registry.MicroserviceInstance) []*registry.MicroserviceInstance
	String() string
}

// ParseVersion parses a possibly short version.
func ParseVersion(s string) (*semver.Version, error) {
	s = strings.TrimSpace(s)
	switch strings.Count(s, ".") {
	case 0:
		s += ".0.0"
	case 1:
		s += ".0"
	case 3:
		i := strings.LastIndex(s, ".")
		if _, err := strconv.ParseUint(s[i+1:], 10, 64); err != nil {
			return nil, fmt.Errorf("invalid build number in %q: %w", s, err)
		}
		s = s[:i] + "+" + s[i+1:]
	}
	return semver.NewVersion(s)
}

// compareVersions is semver.Compare extended with the numeric fourth
// component.
func compareVersions(a, b semver.Version) int {
	if c := a.Compare(b); c != 0 {
		return c
	}
	x, _ := strconv.ParseUint(a.Metadata, 10, 64)
	y, _ := strconv.ParseUint(b.Metadata, 10, 64)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// ParseVersionRule parses a version rule.
func ParseVersionRule(rule string) (VersionRule, error) {
	rule = strings.TrimSpace(rule)
	switch {
	case rule == "" || rule == "0+":
		return allRule{}, nil
	case rule == "latest":
		return latestRule{}, nil
	case strings.HasSuffix(rule, "+"):
		from, err := ParseVersion(strings.TrimSuffix(rule, "+"))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidVersionRule, rule, err)
		}
		return rangeRule{raw: rule, from: *from}, nil
	case strings.Contains(rule, "-"):
		lo, hi, _ := strings.Cut(rule, "-")
		from, err := ParseVersion(lo)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidVersionRule, rule, err)
		}
		to, err := ParseVersion(hi)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidVersionRule, rule, err)
		}
		if compareVersions(*from, *to) >= 0 {
			return nil, fmt.Errorf("%w: %q: empty range", ErrInvalidVersionRule, rule)
		}
		return rangeRule{raw: rule, from: *from, to: to}, nil
	default:
		v, err := ParseVersion(rule)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidVersionRule, rule, err)
		}
		return exactRule{version: *v}, nil
	}
}

type versioned struct {
	version  semver.Version
	instance *registry.MicroserviceInstance
}

// sortByVersion drops unparsable versions and orders by version descending,
// then instance id.
func sortByVersion(instances []*registry.MicroserviceInstance) []versioned {
	out := make([]versioned, 0, len(instances))
	for _, inst := range instances {
		v, err := ParseVersion(inst.Version)
		if err != nil {
			continue
		}
		out = append(out, versioned{version: *v, instance: inst})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := compareVersions(out[i].version, out[j].version); c != 0 {
			return c > 0
		}
		return out[i].instance.InstanceID < out[j].instance.InstanceID
	})
	return out
}

func selectMatching(rule VersionRule, instances []*registry.MicroserviceInstance) []*registry.MicroserviceInstance {
	out := make([]*registry.MicroserviceInstance, 0, len(instances))
	for _, v := range sortByVersion(instances) {
		if rule.Match(v.version) {
			out = append(out, v.instance)
		}
	}
	return out
}

type allRule struct{}

func (allRule) Match(semver.Version) bool { return true }
func (allRule) String() string            { return "0+" }

func (r allRule) Select(instances []*registry.MicroserviceInstance) []*registry.MicroserviceInstance {
	return selectMatching(r, instances)
}

type latestRule struct{}

func (latestRule) Match(semver.Version) bool { return true }
func (latestRule) String() string            { return "latest" }

func (latestRule) Select(instances []*registry.MicroserviceInstance) []*registry.MicroserviceInstance {
	sorted := sortByVersion(instances)
	out := make([]*registry.MicroserviceInstance, 0, len(sorted))
	for _, v := range sorted {
		if compareVersions(v.version, sorted[0].version) != 0 {
			break
		}
		out = append(out, v.instance)
	}
	return out
}

type rangeRule struct {
	raw  string
	from semver.Version
	to   *semver.Version // nil when open ended
}

func (r rangeRule) Match(v semver.Version) bool {
	if compareVersions(v, r.from) < 0 {
		return false
	}
	return r.to == nil || compareVersions(v, *r.to) < 0
}

func (r rangeRule) String() string { return r.raw }

func (r rangeRule) Select(instances []*registry.MicroserviceInstance) []*registry.MicroserviceInstance {
	return selectMatching(r, instances)
}

type exactRule struct {
	version semver.Version
}

func (r exactRule) Match(v semver.Version) bool { return compareVersions(v, r.version) == 0 }

func (r exactRule) String() string { return r.version.String() }

func (r exactRule) Select(instances []*registry.MicroserviceInstance) []*registry.MicroserviceInstance {
	return selectMatching(r, instances)
}
