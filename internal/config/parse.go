// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"strings"
)

// ParseInterfaces parses HM2G_INTERFACES. The form is comma-separated
// "id=url" pairs, e.g.
// "hm2g-BidCos-RF=http://ccu:2001,hm2g-HmIP-RF=http://ccu:2010".
// Timeout and rate limiting come from the global HM2G_CCU_* keys.
func ParseInterfaces(raw string) ([]InterfaceConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil // nil => "no interfaces configured"
	}

	var out []InterfaceConfig
	seen := map[string]struct{}{}

	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		id, url, found := strings.Cut(part, "=")
		if !found {
			return nil, fmt.Errorf("invalid interface entry %q (expected id=url)", part)
		}
		id = strings.TrimSpace(id)
		url = strings.TrimSpace(url)
		if id == "" {
			return nil, fmt.Errorf("invalid interface entry %q: empty id", part)
		}
		if url == "" {
			return nil, fmt.Errorf("invalid interface entry %q: empty url", part)
		}
		if _, ok := seen[id]; ok {
			return nil, fmt.Errorf("duplicate interface id %q", id)
		}
		seen[id] = struct{}{}
		out = append(out, InterfaceConfig{ID: id, URL: url})
	}

	return out, nil
}
