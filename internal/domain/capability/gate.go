// Package capability decides whether a command template may run on a server,
// based on the server's recorded capabilities and detected OS facts.
package capability

import (
	"fmt"
	"strings"

	"github.com/hullcrest/armada/internal/domain/model"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

// Check returns nil when tmpl may run on server, or a capability_mismatch
// error naming the first failed requirement. The capability rows are the
// authority; the denormalized docker/systemd flags on the server are ignored.
// jobType may be nil when the caller resolved the template directly.
func Check(server *model.Server, caps []model.ServerCapability, jobType *model.JobType, tmpl *model.CommandTemplate) error {
	available := make(map[string]bool, len(caps))
	for _, c := range caps {
		available[c.Capability] = c.Available
	}

	required := tmpl.RequiredCapabilities
	if jobType != nil {
		required = append(append([]string{}, jobType.RequiresCapabilities...), required...)
	}
	for _, name := range required {
		avail, recorded := available[name]
		if !recorded {
			return apperrors.CapabilityMismatch(
				fmt.Sprintf("server %q has no recorded capability %q", server.Name, name))
		}
		if !avail {
			return apperrors.CapabilityMismatch(
				fmt.Sprintf("capability %q is unavailable on server %q", name, server.Name))
		}
	}

	if len(tmpl.OSFilter.Distro) > 0 {
		if server.OSDistro == nil || !containsFold(tmpl.OSFilter.Distro, *server.OSDistro) {
			return apperrors.CapabilityMismatch(
				fmt.Sprintf("server %q distro %s is not in [%s]",
					server.Name, strOrUnknown(server.OSDistro), strings.Join(tmpl.OSFilter.Distro, ", ")))
		}
	}
	if len(tmpl.OSFilter.PkgManager) > 0 {
		if server.PackageManager == nil || !containsFold(tmpl.OSFilter.PkgManager, *server.PackageManager) {
			return apperrors.CapabilityMismatch(
				fmt.Sprintf("server %q package manager %s is not in [%s]",
					server.Name, strOrUnknown(server.PackageManager), strings.Join(tmpl.OSFilter.PkgManager, ", ")))
		}
	}

	// Being local is never itself a mismatch.
	return nil
}

// Select picks the matching template for server from candidates belonging to
// one job type. When several match, the most specific OS filter wins (both
// distro and pkg manager set, then one, then none); remaining ties go to the
// lowest id so selection is deterministic. Returns capability_mismatch when
// nothing matches.
func Select(server *model.Server, caps []model.ServerCapability, jobType *model.JobType, candidates []model.CommandTemplate) (*model.CommandTemplate, error) {
	var (
		best     *model.CommandTemplate
		bestSpec = -1
		firstErr error
	)
	for i := range candidates {
		tmpl := &candidates[i]
		if err := Check(server, caps, jobType, tmpl); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		spec := specificity(tmpl.OSFilter)
		if spec > bestSpec || (spec == bestSpec && best != nil && tmpl.ID < best.ID) {
			best = tmpl
			bestSpec = spec
		}
	}
	if best == nil {
		if firstErr != nil {
			return nil, firstErr
		}
		return nil, apperrors.CapabilityMismatch(
			fmt.Sprintf("no command template matches server %q", server.Name))
	}
	return best, nil
}

func specificity(f model.OSFilter) int {
	n := 0
	if len(f.Distro) > 0 {
		n++
	}
	if len(f.PkgManager) > 0 {
		n++
	}
	return n
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(needle)) {
			return true
		}
	}
	return false
}

func strOrUnknown(s *string) string {
	if s == nil || *s == "" {
		return "(undetected)"
	}
	return *s
}
