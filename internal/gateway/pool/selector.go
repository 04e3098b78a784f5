package pool

import "sort"

// SelectAvailable picks the next credential to use, or nil when every
// credential is unhealthy.
//
// Candidates are ordered least recently used first. If the head was used
// within the rotation delay, the first candidate that honours the spacing is
// preferred, falling back to the head when none does. When excluding is the
// pick and another candidate exists, that other candidate is returned.
func (p *Pool) SelectAvailable(excluding *Credential) *Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.nowFunc()
	candidates := make([]*Credential, 0, len(p.creds))
	for _, c := range p.creds {
		if c.available(now) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].lastUsed.Before(candidates[j].lastUsed)
	})

	selected := candidates[0]
	if now.Sub(selected.lastUsed) < p.rotationDelay {
		for _, c := range candidates {
			if now.Sub(c.lastUsed) >= p.rotationDelay {
				selected = c
				break
			}
		}
	}

	if excluding != nil && selected == excluding {
		for _, c := range candidates {
			if c != excluding {
				return c
			}
		}
	}

	return selected
}
