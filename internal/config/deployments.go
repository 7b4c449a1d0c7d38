package config

import (
	"fmt"
	"strings"
)

// Deployment is one Azure OpenAI resource together with the deployment
// ids it serves and the key that authenticates against it.
type Deployment struct {
	Resource string
	Key      string
	Models   []string
}

// ParseDeployments turns the two mapping strings into typed deployments.
//
//	deployments: "gpt-35-turbo,gpt-4;gpt-35-turbo-16k"
//	keys:        "resource1:key1;resource2:key2"
//
// Unnamed groups are matched to keys by position. A group may name its
// resource instead ("resource2:gpt-35-turbo-16k"); named groups are matched
// by resource and every group must then be named. Deployments come back in
// key order. Both strings empty means no deployments.
func ParseDeployments(deployments, keys string) ([]Deployment, error) {
	deployments = strings.TrimSpace(deployments)
	keys = strings.TrimSpace(keys)
	if deployments == "" && keys == "" {
		return nil, nil
	}

	modelGroups := strings.Split(strings.TrimSuffix(deployments, ";"), ";")
	keyGroups := strings.Split(strings.TrimSuffix(keys, ";"), ";")
	if len(modelGroups) != len(keyGroups) {
		return nil, fmt.Errorf("%d deployment groups but %d resource keys", len(modelGroups), len(keyGroups))
	}

	named, err := namedGroups(modelGroups)
	if err != nil {
		return nil, err
	}

	out := make([]Deployment, 0, len(keyGroups))
	seen := make(map[string]bool, len(keyGroups))
	for i, group := range keyGroups {
		resource, key, ok := strings.Cut(strings.TrimSpace(group), ":")
		resource, key = strings.TrimSpace(resource), strings.TrimSpace(key)
		if !ok || resource == "" || key == "" {
			return nil, fmt.Errorf("group %d: expected resource:key, got %q", i, group)
		}
		if seen[resource] {
			return nil, fmt.Errorf("group %d: resource %s has more than one key", i, resource)
		}
		seen[resource] = true

		ids := modelGroups[i]
		if named != nil {
			if ids, ok = named[resource]; !ok {
				return nil, fmt.Errorf("resource %s has a key but no deployment group", resource)
			}
		}

		models := splitIDs(ids)
		if len(models) == 0 {
			return nil, fmt.Errorf("group %d: resource %s has no deployments", i, resource)
		}

		out = append(out, Deployment{Resource: resource, Key: key, Models: models})
	}

	for resource := range named {
		if !seen[resource] {
			return nil, fmt.Errorf("deployment group names resource %s but no key is configured for it", resource)
		}
	}

	return out, nil
}

// namedGroups indexes "resource:ids" groups by resource. It returns nil when
// no group is named.
func namedGroups(groups []string) (map[string]string, error) {
	var named map[string]string
	for i, group := range groups {
		resource, ids, ok := strings.Cut(group, ":")
		if (named != nil) != ok && i > 0 {
			return nil, fmt.Errorf("group %d: either every deployment group names its resource or none does", i)
		}
		if !ok {
			continue
		}
		resource = strings.TrimSpace(resource)
		if resource == "" {
			return nil, fmt.Errorf("group %d: empty resource name in %q", i, group)
		}
		if named == nil {
			named = make(map[string]string, len(groups))
		}
		if _, dup := named[resource]; dup {
			return nil, fmt.Errorf("group %d: resource %s named twice", i, resource)
		}
		named[resource] = ids
	}
	return named, nil
}

func splitIDs(ids string) []string {
	var out []string
	for _, id := range strings.Split(ids, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
