package config

import (
	"fmt"

	"github.com/alechenninger/tollgate/internal/cel"
	"github.com/alechenninger/tollgate/internal/policy"
)

// BuildServices compiles the declared services into the immutable policy
// model. Schema-level problems (unknown kinds, malformed operations, empty
// key names) are rejected here so the request path never sees them.
//
// Note an empty credentials list is not rejected: per the model it is a
// configuration error surfaced at match time.
func BuildServices(cfgs []ServiceConfig) ([]*policy.Service, error) {
	services := make([]*policy.Service, 0, len(cfgs))
	for i, cfg := range cfgs {
		svc, err := buildService(cfg)
		if err != nil {
			return nil, fmt.Errorf("service %d (%s): %w", i, cfg.ID, err)
		}
		services = append(services, svc)
	}
	return services, nil
}

func buildService(cfg ServiceConfig) (*policy.Service, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("missing service id")
	}

	credentials := make([]policy.CredentialParameter, 0, len(cfg.Credentials))
	for i, c := range cfg.Credentials {
		param, err := buildCredential(c)
		if err != nil {
			return nil, fmt.Errorf("credential %d: %w", i, err)
		}
		credentials = append(credentials, param)
	}

	rules := make([]policy.MappingRule, 0, len(cfg.MappingRules))
	for i, r := range cfg.MappingRules {
		rule, err := buildMappingRule(r)
		if err != nil {
			return nil, fmt.Errorf("mapping rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}

	return &policy.Service{
		ID:           cfg.ID,
		Token:        cfg.Token,
		Authorities:  cfg.Authorities,
		Credentials:  credentials,
		MappingRules: rules,
	}, nil
}

func buildCredential(cfg CredentialConfig) (policy.CredentialParameter, error) {
	kind, err := policy.ParseApplicationKind(cfg.Kind)
	if err != nil {
		return policy.CredentialParameter{}, err
	}
	if err := checkKeys(cfg.Keys); err != nil {
		return policy.CredentialParameter{}, err
	}

	locations := make([]policy.Location, 0, len(cfg.Locations))
	for i, l := range cfg.Locations {
		loc, err := buildLocation(l)
		if err != nil {
			return policy.CredentialParameter{}, fmt.Errorf("location %d: %w", i, err)
		}
		locations = append(locations, loc)
	}

	return policy.CredentialParameter{
		Kind:      kind,
		Keys:      cfg.Keys,
		Locations: locations,
	}, nil
}

func buildLocation(cfg LocationConfig) (policy.Location, error) {
	var typ policy.LocationType
	switch cfg.Location {
	case string(policy.LocationHeader):
		typ = policy.LocationHeader
	case string(policy.LocationQueryString):
		typ = policy.LocationQueryString
	case string(policy.LocationProperty):
		typ = policy.LocationProperty
	default:
		return policy.Location{}, fmt.Errorf("unknown location %q", cfg.Location)
	}

	if err := checkKeys(cfg.Keys); err != nil {
		return policy.Location{}, err
	}
	for _, seg := range cfg.Path {
		if seg == "" {
			return policy.Location{}, fmt.Errorf("empty property path segment")
		}
	}

	format, err := policy.ParseFormat(cfg.Format)
	if err != nil {
		return policy.Location{}, err
	}

	ops, err := buildOperations(cfg.Ops)
	if err != nil {
		return policy.Location{}, err
	}

	return policy.Location{
		Type:   typ,
		Keys:   cfg.Keys,
		Path:   cfg.Path,
		Format: format,
		Ops:    ops,
	}, nil
}

func buildOperations(cfgs []OperationConfig) ([]policy.Operation, error) {
	if len(cfgs) == 0 {
		return nil, nil
	}
	ops := make([]policy.Operation, 0, len(cfgs))
	for i, c := range cfgs {
		op, err := buildOperation(c)
		if err != nil {
			return nil, fmt.Errorf("op %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func buildOperation(cfg OperationConfig) (policy.Operation, error) {
	set := 0
	if cfg.Decode != "" {
		set++
	}
	if cfg.Lookup != nil {
		set++
	}
	if len(cfg.And) > 0 {
		set++
	}
	if len(cfg.Or) > 0 {
		set++
	}
	if set != 1 {
		return nil, fmt.Errorf("exactly one of decode, lookup, and, or must be set")
	}

	switch {
	case cfg.Decode != "":
		kind, err := policy.ParseDecodeKind(cfg.Decode)
		if err != nil {
			return nil, err
		}
		return policy.Decode{Kind: kind}, nil

	case cfg.Lookup != nil:
		return buildLookup(*cfg.Lookup)

	case len(cfg.And) > 0:
		children, err := buildOperations(cfg.And)
		if err != nil {
			return nil, err
		}
		return policy.And{Ops: children}, nil

	default:
		children, err := buildOperations(cfg.Or)
		if err != nil {
			return nil, err
		}
		return policy.Or{Ops: children}, nil
	}
}

func buildLookup(cfg LookupConfig) (policy.Operation, error) {
	input, err := policy.ParseFormat(cfg.Input)
	if err != nil {
		return nil, err
	}
	output, err := policy.ParseFormat(cfg.Output)
	if err != nil {
		return nil, err
	}

	var selector policy.Selector
	switch {
	case cfg.Key != nil && cfg.Position != nil:
		return nil, fmt.Errorf("lookup must set key or position, not both")
	case cfg.Key != nil:
		if *cfg.Key == "" {
			return nil, fmt.Errorf("empty lookup key")
		}
		selector = policy.ByKey(*cfg.Key)
	case cfg.Position != nil:
		if *cfg.Position < 0 {
			return nil, fmt.Errorf("negative lookup position")
		}
		selector = policy.ByPosition(*cfg.Position)
	default:
		return nil, fmt.Errorf("lookup must set key or position")
	}

	return policy.Lookup{Input: input, Selector: selector, Output: output}, nil
}

func buildMappingRule(cfg MappingRuleConfig) (policy.MappingRule, error) {
	if cfg.Method == "" {
		return policy.MappingRule{}, fmt.Errorf("missing method")
	}
	if cfg.Pattern == "" {
		return policy.MappingRule{}, fmt.Errorf("missing pattern")
	}

	usages := make([]policy.Usage, 0, len(cfg.Usages))
	for _, u := range cfg.Usages {
		if u.Name == "" {
			return policy.MappingRule{}, fmt.Errorf("usage with empty metric name")
		}
		usages = append(usages, policy.Usage{Name: u.Name, Delta: u.Delta})
	}

	rule := policy.MappingRule{
		Method:  cfg.Method,
		Pattern: cfg.Pattern,
		Usages:  usages,
	}

	if cfg.Condition != "" {
		cond, err := cel.CompileCondition(cfg.Condition)
		if err != nil {
			return policy.MappingRule{}, err
		}
		rule.Condition = cond
	}
	return rule, nil
}

func checkKeys(keys []string) error {
	for _, k := range keys {
		if k == "" {
			return fmt.Errorf("empty key name")
		}
	}
	return nil
}
