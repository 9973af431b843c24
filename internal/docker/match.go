package docker

import "logwatch/internal/models"

// MatchByName selects the containers whose name equals name exactly.
func MatchByName(containers []ContainerSummary, name string) []models.ContainerRef {
	var out []models.ContainerRef
	for _, c := range containers {
		for _, n := range c.Names {
			if trimSlash(n) == name {
				out = append(out, models.ContainerRef{ID: c.ID, Name: name})
				break
			}
		}
	}
	return out
}

func trimSlash(n string) string {
	if len(n) > 0 && n[0] == '/' {
		return n[1:]
	}
	return n
}
